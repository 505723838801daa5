package mtp

import "cartdump/dumper"

// Virtual object handles. The table is fixed: two console folders at the
// root, one ROM image per console, and the dump configuration file.
const (
	handleFolderNES  = 1
	handleFolderSNES = 2
	handleROMNES     = 3
	handleROMSNES    = 4
	handleConfig     = 5
)

// configCapacity bounds config.txt content.
const configCapacity = 512

type object struct {
	handle uint32
	parent uint32
	format uint16
	name   string
}

// objects is ordered by handle; listings preserve that order.
var objects = [...]object{
	{handleFolderNES, 0, FormatFolder, "NES"},
	{handleFolderSNES, 0, FormatFolder, "SNES"},
	{handleROMNES, handleFolderNES, FormatFile, "rom.nes"},
	{handleROMSNES, handleFolderSNES, FormatFile, "rom.sfc"},
	{handleConfig, handleFolderNES, FormatFile, "config.txt"},
}

func lookupObject(handle uint32) (object, bool) {
	for _, o := range objects {
		if o.handle == handle {
			return o, true
		}
	}
	return object{}, false
}

// DeviceIdentity names the device in GetDeviceInfo responses.
type DeviceIdentity struct {
	Manufacturer  string
	Model         string
	DeviceVersion string
	SerialNumber  string
}

// DefaultIdentity is the identity the device boots with.
func DefaultIdentity() DeviceIdentity {
	return DeviceIdentity{
		Manufacturer:  "Embassy",
		Model:         "USB MTP Demo",
		DeviceVersion: "1.0",
		SerialNumber:  "12345678",
	}
}

var supportedOps = []uint16{
	OpGetDeviceInfo,
	OpOpenSession,
	OpCloseSession,
	OpGetStorageIDs,
	OpGetStorageInfo,
	OpGetObjectHandles,
	OpGetObjectInfo,
	OpGetObject,
	OpDeleteObject,
	OpSendObjectInfo,
	OpSendObject,
}

func (s *Server) deviceInfoDataset() []byte {
	var w DatasetWriter
	w.U16(100) // standard version
	w.U32(6)   // vendor extension id
	w.U16(100) // vendor extension version
	w.Str("")  // vendor extension description
	w.U16(0)   // functional mode
	w.U16Array(supportedOps)
	w.U16Array(nil) // events
	w.U16Array(nil) // device properties
	w.U16Array(nil) // capture formats
	w.U16Array([]uint16{FormatFile, FormatFolder})
	w.Str(s.Identity.Manufacturer)
	w.Str(s.Identity.Model)
	w.Str(s.Identity.DeviceVersion)
	w.Str(s.Identity.SerialNumber)
	return w.Bytes()
}

func (s *Server) storageInfoDataset() []byte {
	var w DatasetWriter
	w.U16(0x0003) // fixed RAM
	w.U16(0x0002) // hierarchical filesystem
	w.U16(0x0000) // read-write
	w.U64(16 << 20)
	w.U64(64 << 10)
	w.U32(1)
	w.Str("RAM storage")
	w.Str("cartdump")
	return w.Bytes()
}

// objectSize reports the advertised byte size of an object. rom.nes
// always advertises the default-config image; the stream a read gets
// follows whatever config is in effect then. rom.sfc is unknown until
// detection, so zero.
func (s *Server) objectSize(h uint32) uint32 {
	switch h {
	case handleROMNES:
		return dumper.DefaultConfig().ImageSize()
	case handleConfig:
		return uint32(len(s.config))
	}
	return 0
}

func (s *Server) objectMtime(h uint32) string {
	if h == handleConfig {
		return ptpDateTime(s.configMtime)
	}
	return ptpDateTime(s.bootTime)
}

func (s *Server) objectInfoDataset(o object) []byte {
	var w DatasetWriter
	w.U32(StorageID)
	w.U16(o.format)
	w.U16(0) // protection status
	w.U32(s.objectSize(o.handle))
	w.U16(0) // thumb format
	w.U32(0) // thumb size
	w.U32(0) // thumb width
	w.U32(0) // thumb height
	w.U32(0) // image width
	w.U32(0) // image height
	w.U32(0) // image bit depth
	w.U32(o.parent)
	if o.format == FormatFolder {
		w.U16(0x0001) // generic folder
	} else {
		w.U16(0)
	}
	w.U32(0) // association description
	w.U32(0) // sequence number
	w.Str(o.name)
	w.Str(s.objectMtime(o.handle)) // capture date
	w.Str(s.objectMtime(o.handle))
	w.Str("") // keywords
	return w.Bytes()
}

// objectInfoIn is the subset of an incoming object-info dataset the
// device validates before accepting a config upload.
type objectInfoIn struct {
	storage   uint32
	format    uint16
	size      uint32
	parent    uint32
	assocType uint16
	assocDesc uint32
	filename  string
}

func parseObjectInfo(b []byte) (objectInfoIn, error) {
	r := NewDatasetReader(b)
	var oi objectInfoIn
	oi.storage = r.U32()
	oi.format = r.U16()
	r.U16() // protection status
	oi.size = r.U32()
	r.U16() // thumb format
	r.U32() // thumb size
	r.U32() // thumb width
	r.U32() // thumb height
	r.U32() // image width
	r.U32() // image height
	r.U32() // image bit depth
	oi.parent = r.U32()
	oi.assocType = r.U16()
	oi.assocDesc = r.U32()
	r.U32() // sequence number
	oi.filename = r.Str()
	return oi, r.Err()
}
