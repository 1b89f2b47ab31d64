// Package codec decodes CIP response payloads into typed records.
//
// All multi byte fields are little endian, all decoders are pure functions
// over fixed offset layouts.
package codec

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	identityLayout = "identity"
	// vendor, type, code, major, minor, status, serial and the short string length byte.
	identityMinLen = 15
)

// Identity is the decoded identity object.
type Identity struct {
	VendorID        uint16
	Vendor          string
	ProductTypeID   uint16
	ProductTypeName string
	ProductCode     uint16
	Major           uint8
	Minor           uint8
	Status          uint16
	SerialRaw       uint32
	Serial          string
	ProductName     string
}

// Rev returns the identity revision as major.minor
func (i Identity) Rev() string {
	return fmt.Sprintf("%d.%d", i.Major, i.Minor)
}

// DecodeIdentity decodes an identity object Get Attributes All response.
func DecodeIdentity(b []byte) (Identity, error) {
	if len(b) < identityMinLen {
		return Identity{}, short(identityLayout, identityMinLen, len(b))
	}

	nameLen := int(b[14])
	if len(b) < identityMinLen+nameLen {
		return Identity{}, short(identityLayout, identityMinLen+nameLen, len(b))
	}

	id := Identity{
		VendorID:      binary.LittleEndian.Uint16(b[0:2]),
		ProductTypeID: binary.LittleEndian.Uint16(b[2:4]),
		ProductCode:   binary.LittleEndian.Uint16(b[4:6]),
		Major:         b[6],
		Minor:         b[7],
		Status:        binary.LittleEndian.Uint16(b[8:10]),
		SerialRaw:     binary.LittleEndian.Uint32(b[10:14]),
		ProductName:   StripControl(string(b[15 : 15+nameLen])),
	}

	id.Serial = FormatSerial(id.SerialRaw)
	id.Vendor = VendorName(id.VendorID)
	id.ProductTypeName = ProductTypeName(id.ProductTypeID)

	return id, nil
}

// FormatSerial renders a serial as zero padded lowercase 8 digit hex.
func FormatSerial(raw uint32) string {
	return fmt.Sprintf("%08x", raw)
}

// InvertSerial returns the bit inverted serial, used to name a virtual backplane after its only module.
func InvertSerial(raw uint32) string {
	return FormatSerial(^raw)
}

// StripControl removes ASCII control characters.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}

		return r
	}, s)
}
