package protocol

import "time"

// PIC18 K40 address map
const (
	MainMemoryEnd     = 0x20000
	UserIDAddress     = 0x200000
	ConfigAddress     = 0x300000
	RevisionIDAddress = 0x3FFFFC
	DeviceIDAddress   = 0x3FFFFE
)

// Program memory geometry
const (
	RowSizeWords = 64
	WordSize     = 2
	ConfigWords  = 6
)

// Serial defaults
const (
	DefaultBaudRate = 115200
	DefaultTimeout  = time.Second
)

// Device IDs
const (
	DeviceIDPIC18F47K40 = 0x6940
	DeviceIDPIC18F46K40 = 0x6960
	DeviceIDPIC18F45K40 = 0x6980
)

// DeviceName returns human-readable name for device ID
func DeviceName(id uint16) string {
	switch id {
	case DeviceIDPIC18F47K40:
		return "PIC18F47K40"
	case DeviceIDPIC18F46K40:
		return "PIC18F46K40"
	case DeviceIDPIC18F45K40:
		return "PIC18F45K40"
	default:
		return "PIC18"
	}
}
