package mtp

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"cartdump/dumper"
	"cartdump/transport/loopback"
)

// fakeEngine answers Start with a canned dump stream and forwards
// ConfigChanged messages for inspection.
type fakeEngine struct {
	to    chan dumper.Msg
	from  chan dumper.Msg
	image []byte
	got   chan dumper.Msg
}

func newFakeEngine(image []byte) *fakeEngine {
	e := &fakeEngine{
		to:    make(chan dumper.Msg, 1),
		from:  make(chan dumper.Msg, 1),
		image: image,
		got:   make(chan dumper.Msg, 16),
	}
	go e.run()
	return e
}

func (e *fakeEngine) run() {
	defer close(e.from)
	for m := range e.to {
		switch m.Kind {
		case dumper.MsgConfigChanged:
			e.got <- m
		case dumper.MsgStart:
			e.from <- dumper.Msg{Kind: dumper.MsgSetup, ROMSize: uint32(len(e.image))}
			for off := 0; off < len(e.image); off += dumper.ChunkSize {
				n := len(e.image) - off
				if n > dumper.ChunkSize {
					n = dumper.ChunkSize
				}
				d := dumper.Msg{Kind: dumper.MsgData, Length: n}
				copy(d.Data[:], e.image[off:off+n])
				e.from <- d
			}
			e.from <- dumper.Msg{Kind: dumper.MsgEnd}
		}
	}
}

// testHost drives the host side of the link packet by packet.
type testHost struct {
	t    *testing.T
	conn *loopback.Conn
	tid  uint32
}

func newTestServer(t *testing.T, image []byte) (*testHost, *fakeEngine) {
	dev, host := loopback.Pipe()
	e := newFakeEngine(image)
	s := NewServer(dev, e.to, e.from)
	s.Now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	t.Cleanup(func() {
		host.Close()
		dev.Close()
		close(e.to)
		<-done
	})
	return &testHost{t: t, conn: host}, e
}

func (h *testHost) command(op uint16, params ...uint32) {
	h.t.Helper()
	h.tid++
	b := make([]byte, HeaderLen+4*len(params))
	PutHeader(b, Header{Length: uint32(len(b)), Type: ContainerCommand, Code: op, TransactionID: h.tid})
	for i, p := range params {
		binary.LittleEndian.PutUint32(b[HeaderLen+4*i:], p)
	}
	if err := h.conn.WritePacket(b); err != nil {
		h.t.Fatal(err)
	}
}

// sendData writes one data container under the framing rules: full
// packets while data remains, then the short tail, or a zero-length
// packet when the total landed exactly on a packet boundary.
func (h *testHost) sendData(op uint16, payload []byte) {
	h.t.Helper()
	b := make([]byte, HeaderLen+len(payload))
	PutHeader(b, Header{Length: uint32(len(b)), Type: ContainerData, Code: op, TransactionID: h.tid})
	copy(b[HeaderLen:], payload)
	max := h.conn.MaxPacketSize()
	for len(b) >= max {
		if err := h.conn.WritePacket(b[:max]); err != nil {
			h.t.Fatal(err)
		}
		b = b[max:]
	}
	if len(b) == 0 {
		b = nil
	}
	if err := h.conn.WritePacket(b); err != nil {
		h.t.Fatal(err)
	}
}

// readBlock reads packets until a short one ends the block.
func (h *testHost) readBlock() []byte {
	h.t.Helper()
	buf := make([]byte, h.conn.MaxPacketSize())
	var block []byte
	for {
		n, err := h.conn.ReadPacket(buf)
		if err != nil {
			h.t.Fatal(err)
		}
		block = append(block, buf[:n]...)
		if n < len(buf) {
			return block
		}
	}
}

func (h *testHost) readData(op uint16) []byte {
	h.t.Helper()
	block := h.readBlock()
	hd, err := ParseHeader(block)
	if err != nil {
		h.t.Fatal(err)
	}
	if hd.Type != ContainerData || hd.Code != op || hd.TransactionID != h.tid {
		h.t.Fatalf("data header %+v", hd)
	}
	if int(hd.Length) != len(block) {
		h.t.Fatalf("container declares %d bytes, block has %d", hd.Length, len(block))
	}
	return block[HeaderLen:]
}

func (h *testHost) readResponse() (uint16, []uint32) {
	h.t.Helper()
	block := h.readBlock()
	hd, err := ParseHeader(block)
	if err != nil {
		h.t.Fatal(err)
	}
	if hd.Type != ContainerResponse || hd.TransactionID != h.tid {
		h.t.Fatalf("response header %+v", hd)
	}
	var params []uint32
	for off := HeaderLen; off+4 <= int(hd.Length); off += 4 {
		params = append(params, binary.LittleEndian.Uint32(block[off:]))
	}
	return hd.Code, params
}

func (h *testHost) expectOK() {
	h.t.Helper()
	if code, _ := h.readResponse(); code != RcOK {
		h.t.Fatalf("response $%04x, want OK", code)
	}
}

func readHandles(t *testing.T, h *testHost) []uint32 {
	t.Helper()
	r := NewDatasetReader(h.readData(OpGetObjectHandles))
	n := int(r.U32())
	var out []uint32
	for i := 0; i < n; i++ {
		out = append(out, r.U32())
	}
	if r.Err() != nil {
		t.Fatal(r.Err())
	}
	return out
}

func TestGetDeviceInfo(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetDeviceInfo)
	r := NewDatasetReader(h.readData(OpGetDeviceInfo))
	if v := r.U16(); v != 100 {
		t.Fatalf("standard version = %d", v)
	}
	if v := r.U32(); v != 6 {
		t.Fatalf("vendor extension id = %d", v)
	}
	r.U16() // extension version
	r.Str() // extension description
	r.U16() // functional mode

	n := int(r.U32())
	ops := make(map[uint16]bool, n)
	for i := 0; i < n; i++ {
		ops[r.U16()] = true
	}
	if !ops[OpGetObject] || !ops[OpSendObject] {
		t.Fatalf("operation list incomplete: %v", ops)
	}
	for i := 0; i < 3; i++ { // events, properties, capture formats
		if cnt := r.U32(); cnt != 0 {
			t.Fatalf("array %d not empty: %d", i, cnt)
		}
	}
	n = int(r.U32())
	var formats []uint16
	for i := 0; i < n; i++ {
		formats = append(formats, r.U16())
	}
	if len(formats) != 2 || formats[0] != FormatFile || formats[1] != FormatFolder {
		t.Fatalf("formats = %v", formats)
	}
	if s := r.Str(); s != "Embassy" {
		t.Fatalf("manufacturer = %q", s)
	}
	if s := r.Str(); s != "USB MTP Demo" {
		t.Fatalf("model = %q", s)
	}
	r.Str() // device version
	if s := r.Str(); s != "12345678" {
		t.Fatalf("serial = %q", s)
	}
	if r.Err() != nil {
		t.Fatal(r.Err())
	}
	h.expectOK()
}

func TestOpenCloseSession(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpOpenSession, 1)
	h.expectOK()
	h.command(OpCloseSession)
	h.expectOK()
}

func TestGetStorageIDs(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetStorageIDs)
	r := NewDatasetReader(h.readData(OpGetStorageIDs))
	if n := r.U32(); n != 1 {
		t.Fatalf("storage count = %d", n)
	}
	if id := r.U32(); id != StorageID {
		t.Fatalf("storage id = $%08x", id)
	}
	h.expectOK()
}

func TestGetStorageInfo(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetStorageInfo, StorageID)
	r := NewDatasetReader(h.readData(OpGetStorageInfo))
	if v := r.U16(); v != 0x0003 {
		t.Fatalf("storage type = %d", v)
	}
	if v := r.U16(); v != 0x0002 {
		t.Fatalf("filesystem type = %d", v)
	}
	r.U16() // access capability
	if lo, hi := r.U32(), r.U32(); lo != 16<<20 || hi != 0 {
		t.Fatalf("capacity = %d,%d", lo, hi)
	}
	h.expectOK()
}

func TestGetStorageInfoWrongStore(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetStorageInfo, 0x00020001)
	if code, _ := h.readResponse(); code != RcStoreNotAvailable {
		t.Fatalf("response $%04x", code)
	}
}

func TestListRootFolders(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetObjectHandles, StorageID, FormatFolder, Wildcard)
	handles := readHandles(t, h)
	if len(handles) != 2 || handles[0] != 1 || handles[1] != 2 {
		t.Fatalf("handles = %v", handles)
	}
	h.expectOK()
}

func TestListEverything(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetObjectHandles, Wildcard, 0, 0)
	handles := readHandles(t, h)
	want := []uint32{1, 2, 3, 4, 5}
	if len(handles) != len(want) {
		t.Fatalf("handles = %v", handles)
	}
	for i := range want {
		if handles[i] != want[i] {
			t.Fatalf("handles = %v", handles)
		}
	}
	h.expectOK()
}

func TestListNESFolder(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetObjectHandles, StorageID, 0, 1)
	handles := readHandles(t, h)
	if len(handles) != 2 || handles[0] != 3 || handles[1] != 5 {
		t.Fatalf("handles = %v", handles)
	}
	h.expectOK()
}

func TestListUnknownStorage(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetObjectHandles, 0x00020001, 0, 0)
	if handles := readHandles(t, h); len(handles) != 0 {
		t.Fatalf("handles = %v", handles)
	}
	h.expectOK()
}

func TestGetObjectInfoConfig(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetObjectInfo, 5)
	r := NewDatasetReader(h.readData(OpGetObjectInfo))
	if v := r.U32(); v != StorageID {
		t.Fatalf("storage = $%08x", v)
	}
	if v := r.U16(); v != FormatFile {
		t.Fatalf("format = $%04x", v)
	}
	r.U16() // protection
	wantSize := uint32(len(dumper.EncodeConfigText(dumper.DefaultConfig())))
	if v := r.U32(); v != wantSize {
		t.Fatalf("size = %d, want %d", v, wantSize)
	}
	r.U16() // thumb format
	for i := 0; i < 6; i++ {
		r.U32() // thumb and image fields
	}
	if v := r.U32(); v != 1 {
		t.Fatalf("parent = %d", v)
	}
	r.U16() // association type
	r.U32() // association desc
	r.U32() // sequence number
	if s := r.Str(); s != "config.txt" {
		t.Fatalf("filename = %q", s)
	}
	if s := r.Str(); s != "20260301T120000" {
		t.Fatalf("capture date = %q", s)
	}
	if r.Err() != nil {
		t.Fatal(r.Err())
	}
	h.expectOK()
}

func TestGetObjectInfoUnknown(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetObjectInfo, 99)
	// no data phase at all: the first packet back is the response
	h.expectOK()
}

func TestSoftDeleteConfig(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpDeleteObject, 5)
	h.expectOK()

	h.command(OpGetObjectHandles, StorageID, 0, 0)
	for _, v := range readHandles(t, h) {
		if v == 5 {
			t.Fatal("config still listed after delete")
		}
	}
	h.expectOK()

	h.command(OpGetObjectInfo, 5)
	r := NewDatasetReader(h.readData(OpGetObjectInfo))
	r.U32()
	r.U16()
	r.U16()
	if v := r.U32(); v != uint32(len(dumper.EncodeConfigText(dumper.DefaultConfig()))) {
		t.Fatalf("size after delete = %d", v)
	}
	h.expectOK()
}

func TestDeleteOtherHandleIgnored(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpDeleteObject, 3)
	h.expectOK()
	h.command(OpGetObjectHandles, StorageID, 0, 0)
	if handles := readHandles(t, h); len(handles) != 5 {
		t.Fatalf("handles = %v", handles)
	}
	h.expectOK()
}

func TestGetObjectConfig(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetObject, 5)
	got := h.readData(OpGetObject)
	want := dumper.EncodeConfigText(dumper.DefaultConfig())
	if !bytes.Equal(got, want) {
		t.Fatalf("config = %q, want %q", got, want)
	}
	h.expectOK()
}

func TestGetObjectFolder(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpGetObject, 1)
	h.expectOK()
}

func TestGetObjectStreamsROM(t *testing.T) {
	image := make([]byte, 100)
	for i := range image {
		image[i] = byte(i)
	}
	h, _ := newTestServer(t, image)
	h.command(OpGetObject, 3)
	if got := h.readData(OpGetObject); !bytes.Equal(got, image) {
		t.Fatalf("image mismatch, %d bytes", len(got))
	}
	h.expectOK()
}

func TestStreamExactMultipleEndsWithZLP(t *testing.T) {
	// 12-byte header + 52 bytes of image = exactly one packet; a
	// zero-length packet must close the block.
	h, _ := newTestServer(t, make([]byte, 52))
	h.command(OpGetObject, 3)
	buf := make([]byte, 64)
	n, err := h.conn.ReadPacket(buf)
	if err != nil || n != 64 {
		t.Fatalf("first packet %d bytes, err %v", n, err)
	}
	n, err = h.conn.ReadPacket(buf)
	if err != nil || n != 0 {
		t.Fatalf("want zero-length packet, got %d bytes, err %v", n, err)
	}
	h.expectOK()
}

func TestStreamShortTailNoZLP(t *testing.T) {
	h, _ := newTestServer(t, make([]byte, 40))
	h.command(OpGetObject, 3)
	buf := make([]byte, 64)
	n, err := h.conn.ReadPacket(buf)
	if err != nil || n != 52 {
		t.Fatalf("packet %d bytes, err %v", n, err)
	}
	// the next packet is the response, not a zero-length packet
	h.expectOK()
}

func objectInfoDS(format uint16, size, parent uint32, assocType uint16, filename string) []byte {
	var w DatasetWriter
	w.U32(StorageID)
	w.U16(format)
	w.U16(0)
	w.U32(size)
	w.U16(0)
	for i := 0; i < 6; i++ {
		w.U32(0)
	}
	w.U32(parent)
	w.U16(assocType)
	w.U32(0)
	w.U32(0)
	w.Str(filename)
	w.Str("")
	w.Str("")
	w.Str("")
	return w.Bytes()
}

func TestConfigUpload(t *testing.T) {
	h, e := newTestServer(t, nil)
	text := []byte("mapper=4\nprgsize=2\nchrsize=3\nprg=64\nchr=64\n")

	h.command(OpSendObjectInfo, StorageID, 1)
	h.sendData(OpSendObjectInfo, objectInfoDS(FormatFile, uint32(len(text)), 0, 0, "config.txt"))
	code, params := h.readResponse()
	if code != RcOK {
		t.Fatalf("SendObjectInfo: $%04x", code)
	}
	if len(params) != 3 || params[0] != StorageID || params[1] != 1 || params[2] != 5 {
		t.Fatalf("params = %v", params)
	}

	h.command(OpSendObject)
	h.sendData(OpSendObject, text)
	h.expectOK()

	var cfg dumper.Config
	for i := 0; i < 5; i++ {
		m := <-e.got
		if m.Kind != dumper.MsgConfigChanged {
			t.Fatalf("message %d kind %d", i, m.Kind)
		}
		cfg.Apply(m.Field, m.Value)
	}
	want := dumper.Config{Mapper: 4, PRGSizeExp: 2, CHRSizeExp: 3, PRGKB: 64, CHRKB: 64}
	if cfg != want {
		t.Fatalf("config = %+v", cfg)
	}
	select {
	case m := <-e.got:
		t.Fatalf("sixth message: %+v", m)
	default:
	}

	h.command(OpGetObject, 5)
	if got := h.readData(OpGetObject); !bytes.Equal(got, text) {
		t.Fatalf("config = %q", got)
	}
	h.expectOK()
}

func TestConfigUploadRejected(t *testing.T) {
	tests := []struct {
		name    string
		storage uint32
		parent  uint32
		info    []byte
		want    uint16
	}{
		{"unknown storage", 0x00020001, 0, nil, RcStoreNotAvailable},
		{"rom as parent", StorageID, 3, nil, RcInvalidParentObject},
		{"folder format", StorageID, 0, objectInfoDS(FormatFolder, 10, 0, 0, "config.txt"), RcInvalidObjectFormat},
		{"oversize declared", StorageID, 0, objectInfoDS(FormatFile, 1024, 0, 0, "config.txt"), RcObjectTooLarge},
		{"bad dataset parent", StorageID, 0, objectInfoDS(FormatFile, 10, 2, 0, "config.txt"), RcInvalidParentObject},
		{"association set", StorageID, 0, objectInfoDS(FormatFile, 10, 0, 1, "config.txt"), RcInvalidDataset},
		{"wrong filename", StorageID, 0, objectInfoDS(FormatFile, 10, 0, 0, "notes.txt"), RcInvalidDataset},
		{"truncated dataset", StorageID, 0, []byte{1, 2, 3}, RcInvalidDataset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestServer(t, nil)
			h.command(OpSendObjectInfo, tt.storage, tt.parent)
			if tt.info != nil {
				h.sendData(OpSendObjectInfo, tt.info)
			}
			if code, _ := h.readResponse(); code != tt.want {
				t.Fatalf("response $%04x, want $%04x", code, tt.want)
			}
		})
	}
}

func TestUploadRestoresDeletedConfig(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpDeleteObject, Wildcard)
	h.expectOK()
	h.command(OpGetObjectHandles, StorageID, 0, 0)
	if handles := readHandles(t, h); len(handles) != 4 {
		t.Fatalf("handles = %v", handles)
	}
	h.expectOK()

	h.command(OpSendObjectInfo, 0, 0)
	h.sendData(OpSendObjectInfo, objectInfoDS(FormatFile, 8, 0, 0, "config.txt"))
	if code, _ := h.readResponse(); code != RcOK {
		t.Fatalf("response $%04x", code)
	}
	h.command(OpGetObjectHandles, StorageID, 0, 0)
	if handles := readHandles(t, h); len(handles) != 5 {
		t.Fatalf("handles = %v", handles)
	}
	h.expectOK()
}

func TestConfigUploadOversize(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(OpSendObject)
	h.sendData(OpSendObject, bytes.Repeat([]byte{'x'}, 600))
	if code, _ := h.readResponse(); code != RcObjectTooLarge {
		t.Fatalf("response $%04x", code)
	}

	// nothing was stored, and the session survives the stale packets
	h.command(OpGetObject, 5)
	got := h.readData(OpGetObject)
	if !bytes.Equal(got, dumper.EncodeConfigText(dumper.DefaultConfig())) {
		t.Fatalf("config overwritten: %q", got)
	}
	h.expectOK()
}

func TestConfigUploadBadText(t *testing.T) {
	h, e := newTestServer(t, nil)
	h.command(OpSendObject)
	h.sendData(OpSendObject, []byte("mapper=banana\n"))
	h.expectOK()

	select {
	case m := <-e.got:
		t.Fatalf("config forwarded: %+v", m)
	default:
	}

	// stored even though it did not decode
	h.command(OpGetObject, 5)
	if got := h.readData(OpGetObject); !bytes.Equal(got, []byte("mapper=banana\n")) {
		t.Fatalf("config = %q", got)
	}
	h.expectOK()
}

func TestUnknownOperation(t *testing.T) {
	h, _ := newTestServer(t, nil)
	h.command(0x1016)
	if code, _ := h.readResponse(); code != RcOperationNotSupported {
		t.Fatalf("response $%04x", code)
	}
}

func TestMalformedRequestDropped(t *testing.T) {
	h, _ := newTestServer(t, nil)
	// a response-typed container is not a request: dropped without a
	// reply, and the next command is answered normally
	b := make([]byte, HeaderLen)
	PutHeader(b, Header{Length: HeaderLen, Type: ContainerResponse, Code: RcOK, TransactionID: 1})
	if err := h.conn.WritePacket(b); err != nil {
		t.Fatal(err)
	}

	h.command(OpGetStorageIDs)
	r := NewDatasetReader(h.readData(OpGetStorageIDs))
	if n := r.U32(); n != 1 {
		t.Fatalf("storage count = %d", n)
	}
	h.expectOK()
}

func TestEngineStopAbandonsSession(t *testing.T) {
	dev, host := loopback.Pipe()
	to := make(chan dumper.Msg, 1)
	from := make(chan dumper.Msg, 1)
	s := NewServer(dev, to, from)
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	go func() {
		<-to
		close(from)
	}()

	b := make([]byte, HeaderLen+4)
	PutHeader(b, Header{Length: uint32(len(b)), Type: ContainerCommand, Code: OpGetObject, TransactionID: 1})
	binary.LittleEndian.PutUint32(b[HeaderLen:], handleROMNES)
	if err := host.WritePacket(b); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err == nil {
		t.Fatal("session survived engine stop")
	}
	host.Close()
}
