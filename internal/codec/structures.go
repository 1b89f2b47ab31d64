package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	backplaneLayout  = "backplane status"
	backplaneMinLen  = 18
	busNodeLayout    = "bus node address"
	busNodeMinLen    = 2
	flexLayout       = "flex module map"
	programLayout    = "program name"
	programMinLen    = 2
	flexTerminator   = 0xFFFF
	flexMaxPositions = 8
)

// BackplaneStatus is the decoded chassis object.
type BackplaneStatus struct {
	// Counters holds the bus diagnostic counters and the status byte.
	Counters [8]uint8
	// ModuleAddress is the slot of the module answering the request.
	ModuleAddress uint16
	MajorRev      uint8
	MinorRev      uint8
	SerialRaw     uint32
	Serial        string
	SlotCount     uint16
}

// Rev returns the chassis revision as major.minor
func (s BackplaneStatus) Rev() string {
	return fmt.Sprintf("%d.%d", s.MajorRev, s.MinorRev)
}

// DecodeBackplaneStatus decodes a chassis object Get Attributes All response.
func DecodeBackplaneStatus(b []byte) (BackplaneStatus, error) {
	if len(b) < backplaneMinLen {
		return BackplaneStatus{}, short(backplaneLayout, backplaneMinLen, len(b))
	}

	s := BackplaneStatus{
		ModuleAddress: binary.LittleEndian.Uint16(b[8:10]),
		MajorRev:      b[10],
		MinorRev:      b[11],
		SerialRaw:     binary.LittleEndian.Uint32(b[12:16]),
		SlotCount:     binary.LittleEndian.Uint16(b[16:18]),
	}

	copy(s.Counters[:], b[0:8])
	s.Serial = FormatSerial(s.SerialRaw)

	return s, nil
}

// BusNode is the decoded node address block of a ControlNet bridge.
type BusNode struct {
	Primary   uint8
	Secondary uint8
}

// DecodeBusNodeAddress decodes the node address block, the two trailing reserved bytes are optional.
func DecodeBusNodeAddress(b []byte) (BusNode, error) {
	if len(b) < busNodeMinLen {
		return BusNode{}, short(busNodeLayout, busNodeMinLen, len(b))
	}

	return BusNode{Primary: b[0], Secondary: b[1]}, nil
}

// FlexModule is one position of a Flex I/O rail.
type FlexModule struct {
	Position int
	Code     uint16
	Name     string
}

// DecodeFlexModuleMap decodes the module codes of a Flex adapter rail.
//
// Decoding stops at the terminator code, the end of the payload or the last rail position.
func DecodeFlexModuleMap(b []byte) ([]FlexModule, error) {
	if len(b)%2 != 0 {
		return nil, malformed(flexLayout, fmt.Sprintf("odd payload length %d", len(b)))
	}

	modules := []FlexModule{}

	for pos := 0; pos < flexMaxPositions && pos*2 < len(b); pos++ {
		code := binary.LittleEndian.Uint16(b[pos*2 : pos*2+2])
		if code == flexTerminator {
			break
		}

		modules = append(modules, FlexModule{Position: pos, Code: code, Name: FlexModuleName(code)})
	}

	return modules, nil
}

// DecodeProgramName decodes the STRING holding a controller program name.
func DecodeProgramName(b []byte) (string, error) {
	if len(b) < programMinLen {
		return "", short(programLayout, programMinLen, len(b))
	}

	n := int(binary.LittleEndian.Uint16(b[0:2]))
	if len(b) < programMinLen+n {
		return "", short(programLayout, programMinLen+n, len(b))
	}

	return StripControl(string(b[2 : 2+n])), nil
}
