package fixtures

import (
	"encoding/binary"
)

// Identity describes an identity object answer.
type Identity struct {
	VendorID    uint16
	ProductType uint16
	ProductCode uint16
	Major       uint8
	Minor       uint8
	Status      uint16
	Serial      uint32
	Name        string
}

// Common products seen on ControlLogix networks.
var (
	ControlNetBridge = Identity{VendorID: 1, ProductType: 0x0C, ProductCode: 22, Major: 11, Minor: 2, Name: "1756-CNB/D"}
	EthernetBridge   = Identity{VendorID: 1, ProductType: 0x0C, ProductCode: 166, Major: 4, Minor: 1, Name: "1756-ENBT/A"}
	Controller       = Identity{VendorID: 1, ProductType: 0x0E, ProductCode: 93, Major: 20, Minor: 11, Name: "1756-L61/B"}
	DigitalInput     = Identity{VendorID: 1, ProductType: 0x07, ProductCode: 8, Major: 3, Minor: 1, Name: "1756-IB16/A"}
	FlexAdapter      = Identity{VendorID: 1, ProductType: 0x0C, ProductCode: 83, Major: 1, Minor: 4, Name: "1794-ACN15/C"}
)

// WithSerial returns a copy of the identity carrying the serial.
func (i Identity) WithSerial(serial uint32) Identity {
	i.Serial = serial
	return i
}

// IdentityPayload encodes an identity object Get Attributes All answer.
func IdentityPayload(id Identity) []byte {
	b := make([]byte, 15, 15+len(id.Name))
	binary.LittleEndian.PutUint16(b[0:2], id.VendorID)
	binary.LittleEndian.PutUint16(b[2:4], id.ProductType)
	binary.LittleEndian.PutUint16(b[4:6], id.ProductCode)
	b[6] = id.Major
	b[7] = id.Minor
	binary.LittleEndian.PutUint16(b[8:10], id.Status)
	binary.LittleEndian.PutUint32(b[10:14], id.Serial)
	b[14] = byte(len(id.Name))

	return append(b, id.Name...)
}

// BackplanePayload encodes a chassis object answer, moduleAddress is the slot of the answering module.
func BackplanePayload(serial uint32, slotCount, moduleAddress uint16) []byte {
	b := make([]byte, 18)
	binary.LittleEndian.PutUint16(b[8:10], moduleAddress)
	b[10] = 2
	b[11] = 1
	binary.LittleEndian.PutUint32(b[12:16], serial)
	binary.LittleEndian.PutUint16(b[16:18], slotCount)

	return b
}

// BusNodePayload encodes a ControlNet node address block.
func BusNodePayload(primary, secondary uint8) []byte {
	return []byte{primary, secondary, 0, 0}
}

// FlexPayload encodes a Flex module map terminated by 0xFFFF.
func FlexPayload(codes ...uint16) []byte {
	b := make([]byte, 0, 2*len(codes)+2)
	for _, c := range append(codes, 0xFFFF) {
		b = binary.LittleEndian.AppendUint16(b, c)
	}

	return b
}

// ProgramNamePayload encodes a STRING program name.
func ProgramNamePayload(name string) []byte {
	b := binary.LittleEndian.AppendUint16(nil, uint16(len(name)))
	return append(b, name...)
}
