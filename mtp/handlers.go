package mtp

import (
	"errors"
	"log"

	"cartdump/dumper"
)

func (s *Server) dispatch(c command) error {
	switch c.op {
	case OpGetDeviceInfo:
		return s.getDeviceInfo(c)
	case OpOpenSession, OpCloseSession:
		// no session state is kept
		return s.sendResponse(RcOK, c.tid)
	case OpGetStorageIDs:
		return s.getStorageIDs(c)
	case OpGetStorageInfo:
		return s.getStorageInfo(c)
	case OpGetObjectHandles:
		return s.getObjectHandles(c)
	case OpGetObjectInfo:
		return s.getObjectInfo(c)
	case OpGetObject:
		return s.getObject(c)
	case OpDeleteObject:
		return s.deleteObject(c)
	case OpSendObjectInfo:
		return s.sendObjectInfo(c)
	case OpSendObject:
		return s.sendObject(c)
	}
	log.Printf("mtp: operation $%04x not supported\n", c.op)
	return s.sendResponse(RcOperationNotSupported, c.tid)
}

func (s *Server) getDeviceInfo(c command) error {
	if err := s.sendData(c.op, c.tid, s.deviceInfoDataset()); err != nil {
		return err
	}
	return s.sendResponse(RcOK, c.tid)
}

func (s *Server) getStorageIDs(c command) error {
	var w DatasetWriter
	w.U32Array([]uint32{StorageID})
	if err := s.sendData(c.op, c.tid, w.Bytes()); err != nil {
		return err
	}
	return s.sendResponse(RcOK, c.tid)
}

func (s *Server) getStorageInfo(c command) error {
	if c.param(0) != StorageID {
		return s.sendResponse(RcStoreNotAvailable, c.tid)
	}
	if err := s.sendData(c.op, c.tid, s.storageInfoDataset()); err != nil {
		return err
	}
	return s.sendResponse(RcOK, c.tid)
}

// getObjectHandles filters the object table by storage, format and
// parent. Format zero matches any format; parent zero matches anywhere
// and the wildcard parent matches the root. A soft-deleted config file
// is left out.
func (s *Server) getObjectHandles(c command) error {
	storage, format, parent := c.param(0), c.param(1), c.param(2)
	var handles []uint32
	if storage == StorageID || storage == Wildcard {
		for _, o := range objects {
			if o.handle == handleConfig && s.configDeleted {
				continue
			}
			if format != 0 && uint32(o.format) != format {
				continue
			}
			switch parent {
			case 0:
			case Wildcard:
				if o.parent != 0 {
					continue
				}
			default:
				if o.parent != parent {
					continue
				}
			}
			handles = append(handles, o.handle)
		}
	}
	var w DatasetWriter
	w.U32Array(handles)
	if err := s.sendData(c.op, c.tid, w.Bytes()); err != nil {
		return err
	}
	return s.sendResponse(RcOK, c.tid)
}

// getObjectInfo answers unknown handles with no data phase at all; the
// zero-length result is the failure signal. A soft-deleted config file
// still resolves and reports its last known size.
func (s *Server) getObjectInfo(c command) error {
	o, ok := lookupObject(c.param(0))
	if !ok {
		return s.sendResponse(RcOK, c.tid)
	}
	if err := s.sendData(c.op, c.tid, s.objectInfoDataset(o)); err != nil {
		return err
	}
	return s.sendResponse(RcOK, c.tid)
}

func (s *Server) getObject(c command) error {
	switch c.param(0) {
	case handleROMNES:
		if err := s.streamDump(dumper.ConsoleNES, c.op, c.tid); err != nil {
			return err
		}
	case handleROMSNES:
		if err := s.streamDump(dumper.ConsoleSNES, c.op, c.tid); err != nil {
			return err
		}
	case handleConfig:
		if err := s.sendData(c.op, c.tid, s.config); err != nil {
			return err
		}
	default:
		// folders and unknown handles: no data
	}
	return s.sendResponse(RcOK, c.tid)
}

// deleteObject soft-deletes the config file: it drops out of listings
// but keeps resolving. Every other handle is untouched, and the
// response is OK regardless.
func (s *Server) deleteObject(c command) error {
	h := c.param(0)
	if h == handleConfig || h == Wildcard {
		s.configDeleted = true
		log.Printf("mtp: config.txt deleted (soft)\n")
	}
	return s.sendResponse(RcOK, c.tid)
}

func (s *Server) sendObjectInfo(c command) error {
	if st := c.param(0); st != 0 && st != StorageID && st != Wildcard {
		return s.sendResponse(RcStoreNotAvailable, c.tid)
	}
	if p := c.param(1); p != 0 && p != Wildcard && p != handleFolderNES {
		return s.sendResponse(RcInvalidParentObject, c.tid)
	}

	payload, err := s.readDataOut(c.op, c.tid, configCapacity)
	switch {
	case errors.Is(err, errDataTooLarge):
		return s.sendResponse(RcObjectTooLarge, c.tid)
	case errors.Is(err, errDataMalformed):
		return s.sendResponse(RcInvalidDataset, c.tid)
	case err != nil:
		return err
	}

	oi, err := parseObjectInfo(payload)
	if err != nil {
		return s.sendResponse(RcInvalidDataset, c.tid)
	}
	if oi.format != FormatFile {
		return s.sendResponse(RcInvalidObjectFormat, c.tid)
	}
	if oi.size > configCapacity {
		return s.sendResponse(RcObjectTooLarge, c.tid)
	}
	if oi.parent != 0 && oi.parent != Wildcard && oi.parent != handleFolderNES {
		return s.sendResponse(RcInvalidParentObject, c.tid)
	}
	if oi.assocType != 0 || oi.assocDesc != 0 {
		return s.sendResponse(RcInvalidDataset, c.tid)
	}
	if oi.filename != "config.txt" {
		return s.sendResponse(RcInvalidDataset, c.tid)
	}

	s.configDeleted = false
	return s.sendResponse(RcOK, c.tid, StorageID, handleFolderNES, handleConfig)
}

// sendObject stores the uploaded bytes as the config.txt content, then
// tries to decode them as the five-field config record. Content that
// does not decode is stored anyway but leaves the dump config alone.
func (s *Server) sendObject(c command) error {
	payload, err := s.readDataOut(c.op, c.tid, configCapacity)
	switch {
	case errors.Is(err, errDataTooLarge):
		return s.sendResponse(RcObjectTooLarge, c.tid)
	case errors.Is(err, errDataMalformed):
		log.Printf("mtp: config upload dropped: %v\n", err)
		return s.sendResponse(RcOK, c.tid)
	case err != nil:
		return err
	}

	s.config = append(s.config[:0], payload...)
	s.configMtime = s.Now()

	cfg, err := dumper.ParseConfigText(payload)
	if err != nil {
		log.Printf("mtp: config not applied: %v\n", err)
		return s.sendResponse(RcOK, c.tid)
	}
	for _, m := range cfg.Changes() {
		s.to <- m
	}
	log.Printf("mtp: config applied: mapper=%d prg=%dKB chr=%dKB\n", cfg.Mapper, cfg.PRGKB, cfg.CHRKB)
	return s.sendResponse(RcOK, c.tid)
}
