package mtp

// Operation codes the device answers. Anything else gets
// RcOperationNotSupported.
const (
	OpGetDeviceInfo    = 0x1001
	OpOpenSession      = 0x1002
	OpCloseSession     = 0x1003
	OpGetStorageIDs    = 0x1004
	OpGetStorageInfo   = 0x1005
	OpGetObjectHandles = 0x1007
	OpGetObjectInfo    = 0x1008
	OpGetObject        = 0x1009
	OpDeleteObject     = 0x100B
	OpSendObjectInfo   = 0x100C
	OpSendObject       = 0x100D
)

// Response codes.
const (
	RcOK                    = 0x2001
	RcOperationNotSupported = 0x2005
	RcInvalidObjectFormat   = 0x200B
	RcStoreNotAvailable     = 0x2013
	RcInvalidParentObject   = 0x201A
	RcInvalidDataset        = 0xA807
	RcObjectTooLarge        = 0xA80A
)

// Object format codes: plain files and folders are all the filesystem
// has.
const (
	FormatFile   = 0x3000
	FormatFolder = 0x3001
)

// StorageID is the one storage the device exposes. Wildcard matches any
// storage or, as a parent filter, the root.
const (
	StorageID = 0x00010001
	Wildcard  = 0xFFFFFFFF
)
