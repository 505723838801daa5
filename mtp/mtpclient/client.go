// Package mtpclient is the host side of the dumper's transfer
// protocol. A Client turns the packet link into request-response
// calls: it frames command containers, collects data phases, decodes
// the device's datasets, and runs the two-step push that uploads a
// dump configuration.
package mtpclient

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cartdump/mtp"
	"cartdump/transport"
)

// ErrNoObject reports a handle the device does not know. The device
// signals it by skipping the data phase entirely.
var ErrNoObject = errors.New("mtpclient: no such object")

// ProtocolError is a non-OK response code from the device.
type ProtocolError uint16

func (e ProtocolError) Error() string {
	if name, ok := rcNames[uint16(e)]; ok {
		return fmt.Sprintf("mtpclient: device answered %s ($%04X)", name, uint16(e))
	}
	return fmt.Sprintf("mtpclient: device answered $%04X", uint16(e))
}

var rcNames = map[uint16]string{
	mtp.RcOperationNotSupported: "operation not supported",
	mtp.RcInvalidObjectFormat:   "invalid object format",
	mtp.RcStoreNotAvailable:     "store not available",
	mtp.RcInvalidParentObject:   "invalid parent object",
	mtp.RcInvalidDataset:        "invalid dataset",
	mtp.RcObjectTooLarge:        "object too large",
}

// DeviceInfo is the decoded identity block.
type DeviceInfo struct {
	StandardVersion uint16
	VendorExtension uint32
	Operations      []uint16
	Formats         []uint16
	Manufacturer    string
	Model           string
	DeviceVersion   string
	SerialNumber    string
}

// ObjectInfo describes one object in the device's virtual filesystem.
type ObjectInfo struct {
	Storage  uint32
	Format   uint16
	Size     uint32
	Parent   uint32
	Filename string
	Modified string
}

// Client drives one session over a packet link. The protocol is
// strictly request-response, so a Client is not safe for concurrent
// use.
type Client struct {
	// OnPacket, when set, is called for every payload packet of a data
	// phase with its size and the time since the previous packet.
	OnPacket func(n int, gap time.Duration)

	conn transport.Conn
	tid  uint32
	rbuf []byte
}

func New(conn transport.Conn) *Client {
	return &Client{conn: conn, rbuf: make([]byte, conn.MaxPacketSize())}
}

func (c *Client) OpenSession() error {
	_, _, err := c.transact(mtp.OpOpenSession, nil, nil, 1)
	return err
}

func (c *Client) CloseSession() error {
	_, _, err := c.transact(mtp.OpCloseSession, nil, nil)
	return err
}

// DeviceInfo fetches and decodes the device identity block.
func (c *Client) DeviceInfo() (*DeviceInfo, error) {
	var buf bytes.Buffer
	if _, _, err := c.transact(mtp.OpGetDeviceInfo, nil, &buf); err != nil {
		return nil, err
	}
	r := mtp.NewDatasetReader(buf.Bytes())
	di := &DeviceInfo{}
	di.StandardVersion = r.U16()
	di.VendorExtension = r.U32()
	r.U16() // extension version
	r.Str() // extension description
	r.U16() // functional mode
	di.Operations = r.U16ArrayField()
	r.U16ArrayField() // events
	r.U16ArrayField() // device properties
	r.U16ArrayField() // capture formats
	di.Formats = r.U16ArrayField()
	di.Manufacturer = r.Str()
	di.Model = r.Str()
	di.DeviceVersion = r.Str()
	di.SerialNumber = r.Str()
	if r.Err() != nil {
		return nil, fmt.Errorf("mtpclient: device info: %w", r.Err())
	}
	return di, nil
}

func (c *Client) StorageIDs() ([]uint32, error) {
	var buf bytes.Buffer
	if _, _, err := c.transact(mtp.OpGetStorageIDs, nil, &buf); err != nil {
		return nil, err
	}
	r := mtp.NewDatasetReader(buf.Bytes())
	ids := r.U32ArrayField()
	if r.Err() != nil {
		return nil, fmt.Errorf("mtpclient: storage ids: %w", r.Err())
	}
	return ids, nil
}

// ObjectHandles lists handles filtered by storage, format and parent.
// Format zero matches any format. Parent zero matches anywhere; the
// wildcard parent matches the storage root.
func (c *Client) ObjectHandles(storage, format, parent uint32) ([]uint32, error) {
	var buf bytes.Buffer
	if _, _, err := c.transact(mtp.OpGetObjectHandles, nil, &buf, storage, format, parent); err != nil {
		return nil, err
	}
	r := mtp.NewDatasetReader(buf.Bytes())
	handles := r.U32ArrayField()
	if r.Err() != nil {
		return nil, fmt.Errorf("mtpclient: object handles: %w", r.Err())
	}
	return handles, nil
}

// ObjectInfo resolves one handle, or ErrNoObject for a handle the
// device does not know.
func (c *Client) ObjectInfo(handle uint32) (*ObjectInfo, error) {
	var buf bytes.Buffer
	_, n, err := c.transact(mtp.OpGetObjectInfo, nil, &buf, handle)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoObject
	}
	r := mtp.NewDatasetReader(buf.Bytes())
	oi := &ObjectInfo{}
	oi.Storage = r.U32()
	oi.Format = r.U16()
	r.U16() // protection status
	oi.Size = r.U32()
	r.U16() // thumb format
	r.U32() // thumb size
	r.U32() // thumb width
	r.U32() // thumb height
	r.U32() // image width
	r.U32() // image height
	r.U32() // image bit depth
	oi.Parent = r.U32()
	r.U16() // association type
	r.U32() // association desc
	r.U32() // sequence number
	oi.Filename = r.Str()
	r.Str() // capture date
	oi.Modified = r.Str()
	if r.Err() != nil {
		return nil, fmt.Errorf("mtpclient: object info: %w", r.Err())
	}
	return oi, nil
}

// Find resolves a slash-separated path from the storage root.
func (c *Client) Find(storage uint32, path string) (uint32, *ObjectInfo, error) {
	parent := uint32(mtp.Wildcard)
	var handle uint32
	var info *ObjectInfo
	for _, elem := range strings.Split(path, "/") {
		if elem == "" {
			continue
		}
		handles, err := c.ObjectHandles(storage, 0, parent)
		if err != nil {
			return 0, nil, err
		}
		handle, info = 0, nil
		for _, h := range handles {
			oi, err := c.ObjectInfo(h)
			if err != nil {
				return 0, nil, err
			}
			if oi.Filename == elem {
				handle, info = h, oi
				break
			}
		}
		if info == nil {
			return 0, nil, fmt.Errorf("mtpclient: %s: %w", path, ErrNoObject)
		}
		parent = handle
	}
	if info == nil {
		return 0, nil, fmt.Errorf("mtpclient: %s: %w", path, ErrNoObject)
	}
	return handle, info, nil
}

// ReadObject streams an object's content into w and reports how many
// bytes arrived. ROM objects dump the cartridge live, so the count can
// fall short of the advertised size.
func (c *Client) ReadObject(handle uint32, w io.Writer) (int64, error) {
	_, n, err := c.transact(mtp.OpGetObject, nil, w, handle)
	return n, err
}

func (c *Client) DeleteObject(handle uint32) error {
	_, _, err := c.transact(mtp.OpDeleteObject, nil, nil, handle)
	return err
}

// WriteConfig uploads text as the device's config.txt: the object-info
// push that reserves the slot, then the content itself. The device
// stores content it cannot decode and still answers OK, so a decode
// failure does not surface here.
func (c *Client) WriteConfig(text []byte) error {
	var w mtp.DatasetWriter
	w.U32(mtp.StorageID)
	w.U16(mtp.FormatFile)
	w.U16(0) // protection status
	w.U32(uint32(len(text)))
	w.U16(0) // thumb format
	for i := 0; i < 6; i++ {
		w.U32(0) // thumb and image dimensions
	}
	w.U32(0) // parent: the device decides
	w.U16(0) // association type
	w.U32(0) // association desc
	w.U32(0) // sequence number
	w.Str("config.txt")
	w.Str("") // capture date
	w.Str("") // modification date
	w.Str("") // keywords

	if _, _, err := c.transact(mtp.OpSendObjectInfo, w.Bytes(), nil, mtp.StorageID, 0); err != nil {
		return fmt.Errorf("mtpclient: send object info: %w", err)
	}
	if _, _, err := c.transact(mtp.OpSendObject, text, nil); err != nil {
		return fmt.Errorf("mtpclient: send object: %w", err)
	}
	return nil
}

// transact runs one operation: the command container, an optional
// data-out push, an optional data-in phase collected into dataW, then
// the response. It returns the response parameters, the data-in payload
// length, and the error mapping of the response code.
func (c *Client) transact(op uint16, dataOut []byte, dataW io.Writer, params ...uint32) ([]uint32, int64, error) {
	if err := c.command(op, params...); err != nil {
		return nil, 0, fmt.Errorf("mtpclient: command $%04X: %w", op, err)
	}
	if dataOut != nil {
		if err := c.sendData(op, dataOut); err != nil {
			return nil, 0, fmt.Errorf("mtpclient: data for $%04X: %w", op, err)
		}
	}

	n, err := c.conn.ReadPacket(c.rbuf)
	if err != nil {
		return nil, 0, fmt.Errorf("mtpclient: read: %w", err)
	}
	h, err := mtp.ParseHeader(c.rbuf[:n])
	if err != nil {
		return nil, 0, err
	}

	var dataLen int64
	if h.Type == mtp.ContainerData {
		if h.Code != op || h.TransactionID != c.tid {
			return nil, 0, fmt.Errorf("mtpclient: data container for $%04X transaction %d, want $%04X transaction %d",
				h.Code, h.TransactionID, op, c.tid)
		}
		if dataLen, err = c.readDataTail(n, dataW); err != nil {
			return nil, dataLen, err
		}
		if n, err = c.conn.ReadPacket(c.rbuf); err != nil {
			return nil, dataLen, fmt.Errorf("mtpclient: read: %w", err)
		}
		if h, err = mtp.ParseHeader(c.rbuf[:n]); err != nil {
			return nil, dataLen, err
		}
	}

	if h.Type != mtp.ContainerResponse {
		return nil, dataLen, &mtp.ContainerTypeError{Type: h.Type}
	}
	if h.TransactionID != c.tid {
		return nil, dataLen, fmt.Errorf("mtpclient: response for transaction %d, want %d", h.TransactionID, c.tid)
	}
	var rparams []uint32
	for off := mtp.HeaderLen; off+4 <= int(h.Length) && off+4 <= n; off += 4 {
		rparams = append(rparams, binary.LittleEndian.Uint32(c.rbuf[off:]))
	}
	if h.Code != mtp.RcOK {
		return rparams, dataLen, ProtocolError(h.Code)
	}
	return rparams, dataLen, nil
}

// readDataTail consumes the rest of a data block whose first packet is
// already in rbuf. A packet shorter than the link's packet size closes
// the block, including the zero-length packet after an exact multiple.
func (c *Client) readDataTail(n int, w io.Writer) (int64, error) {
	max := c.conn.MaxPacketSize()
	last := time.Now()
	var total int64

	emit := func(p []byte, at time.Time) error {
		total += int64(len(p))
		if c.OnPacket != nil && len(p) > 0 {
			c.OnPacket(len(p), at.Sub(last))
		}
		last = at
		if w != nil && len(p) > 0 {
			if _, err := w.Write(p); err != nil {
				return fmt.Errorf("mtpclient: write: %w", err)
			}
		}
		return nil
	}

	if err := emit(c.rbuf[mtp.HeaderLen:n], last); err != nil {
		return total, err
	}
	for n == max {
		var err error
		if n, err = c.conn.ReadPacket(c.rbuf); err != nil {
			return total, fmt.Errorf("mtpclient: read: %w", err)
		}
		if err = emit(c.rbuf[:n], time.Now()); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *Client) command(op uint16, params ...uint32) error {
	c.tid++
	b := make([]byte, mtp.HeaderLen+4*len(params))
	mtp.PutHeader(b, mtp.Header{
		Length:        uint32(len(b)),
		Type:          mtp.ContainerCommand,
		Code:          op,
		TransactionID: c.tid,
	})
	for i, p := range params {
		binary.LittleEndian.PutUint32(b[mtp.HeaderLen+4*i:], p)
	}
	return c.conn.WritePacket(b)
}

// sendData writes one data container under the block framing rules:
// full packets while bytes remain, then the short tail, or a
// zero-length packet when the total landed on a packet boundary.
func (c *Client) sendData(op uint16, payload []byte) error {
	b := make([]byte, mtp.HeaderLen+len(payload))
	mtp.PutHeader(b, mtp.Header{
		Length:        uint32(len(b)),
		Type:          mtp.ContainerData,
		Code:          op,
		TransactionID: c.tid,
	})
	copy(b[mtp.HeaderLen:], payload)

	max := c.conn.MaxPacketSize()
	for len(b) >= max {
		if err := c.conn.WritePacket(b[:max]); err != nil {
			return err
		}
		b = b[max:]
	}
	if len(b) == 0 {
		b = nil
	}
	return c.conn.WritePacket(b)
}
