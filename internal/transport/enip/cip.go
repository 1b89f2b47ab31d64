package enip

import (
	"encoding/binary"

	"github.com/metal-toolbox/logixinvent/internal/catalog"
	"github.com/metal-toolbox/logixinvent/internal/cippath"
	"github.com/pkg/errors"
)

const (
	segClass8      = 0x20
	segClass16     = 0x21
	segInstance8   = 0x24
	segInstance16  = 0x25
	segAttribute8  = 0x30
	segAttribute16 = 0x31

	portExtendedLink = 0x10

	priorityTimeTick = 0x0A
	timeoutTicks     = 0x0E

	replyFlag = 0x80

	// forward open parameters, class 3 point to point connection
	timeoutMultiplier  = 0x01
	rpiMicroseconds    = 2000000
	networkParams      = 0x43F8
	transportTypeClass = 0xA3
)

// messageRouterPath addresses the message router behind a connection path.
var messageRouterPath = []byte{segClass8, 0x02, segInstance8, 0x01}

// logicalPath encodes the class, instance and optional attribute segments.
func logicalPath(class, instance uint16, attribute uint16, hasAttribute bool) []byte {
	b := logicalSegment(nil, segClass8, segClass16, class)
	b = logicalSegment(b, segInstance8, segInstance16, instance)

	if hasAttribute {
		b = logicalSegment(b, segAttribute8, segAttribute16, attribute)
	}

	return b
}

func logicalSegment(b []byte, seg8, seg16 byte, value uint16) []byte {
	if value <= 0xFF {
		return append(b, seg8, byte(value))
	}

	b = append(b, seg16, 0x00)

	return binary.LittleEndian.AppendUint16(b, value)
}

// portPath encodes route hops as port segments, each padded to an even length.
func portPath(hops []cippath.Hop) []byte {
	b := []byte{}

	for _, hop := range hops {
		if hop.Link <= 0xFF {
			b = append(b, hop.Port, byte(hop.Link))
			continue
		}

		b = append(b, portExtendedLink|hop.Port, 2)
		b = binary.LittleEndian.AppendUint16(b, hop.Link)
	}

	return b
}

// encodeRequest returns the message router request for a template.
func encodeRequest(t catalog.Template) []byte {
	return messageRequest(t.Service, logicalPath(t.Class, t.Instance, t.Attribute, t.HasAttribute), nil)
}

func messageRequest(service uint8, path, data []byte) []byte {
	b := make([]byte, 0, 2+len(path)+len(data))
	b = append(b, service, byte(len(path)/2))
	b = append(b, path...)

	return append(b, data...)
}

// unconnectedSend wraps a request in an Unconnected Send to the connection manager routed over hops.
func unconnectedSend(request []byte, hops []cippath.Hop) []byte {
	route := portPath(hops)

	data := []byte{priorityTimeTick, timeoutTicks}
	data = binary.LittleEndian.AppendUint16(data, uint16(len(request)))
	data = append(data, request...)

	if len(request)%2 == 1 {
		data = append(data, 0x00)
	}

	data = append(data, byte(len(route)/2), 0x00)
	data = append(data, route...)

	return messageRequest(
		catalog.ServiceUnconnectedSend,
		logicalPath(catalog.ClassConnectionManager, 1, 0, false),
		data,
	)
}

type connectionParams struct {
	OTConnectionID uint32
	TOConnectionID uint32
	Serial         uint16
	VendorID       uint16
	OriginatorSN   uint32
}

func forwardOpenRequest(p connectionParams, hops []cippath.Hop) []byte {
	path := append(portPath(hops), messageRouterPath...)

	data := []byte{priorityTimeTick, timeoutTicks}
	data = binary.LittleEndian.AppendUint32(data, 0)
	data = binary.LittleEndian.AppendUint32(data, p.TOConnectionID)
	data = binary.LittleEndian.AppendUint16(data, p.Serial)
	data = binary.LittleEndian.AppendUint16(data, p.VendorID)
	data = binary.LittleEndian.AppendUint32(data, p.OriginatorSN)
	data = append(data, timeoutMultiplier, 0, 0, 0)
	data = binary.LittleEndian.AppendUint32(data, rpiMicroseconds)
	data = binary.LittleEndian.AppendUint16(data, networkParams)
	data = binary.LittleEndian.AppendUint32(data, rpiMicroseconds)
	data = binary.LittleEndian.AppendUint16(data, networkParams)
	data = append(data, transportTypeClass, byte(len(path)/2))
	data = append(data, path...)

	return messageRequest(
		catalog.ServiceForwardOpen,
		logicalPath(catalog.ClassConnectionManager, 1, 0, false),
		data,
	)
}

func forwardCloseRequest(p connectionParams, hops []cippath.Hop) []byte {
	path := append(portPath(hops), messageRouterPath...)

	data := []byte{priorityTimeTick, timeoutTicks}
	data = binary.LittleEndian.AppendUint16(data, p.Serial)
	data = binary.LittleEndian.AppendUint16(data, p.VendorID)
	data = binary.LittleEndian.AppendUint32(data, p.OriginatorSN)
	data = append(data, byte(len(path)/2), 0x00)
	data = append(data, path...)

	return messageRequest(
		catalog.ServiceForwardClose,
		logicalPath(catalog.ClassConnectionManager, 1, 0, false),
		data,
	)
}

// reply is a decoded message router response.
type reply struct {
	Service   uint8
	Status    uint8
	ExtStatus []uint16
	Data      []byte
}

func decodeReply(b []byte) (reply, error) {
	if len(b) < 4 {
		return reply{}, errors.Wrapf(ErrMalformed, "reply is %d bytes", len(b))
	}

	r := reply{Service: b[0] &^ replyFlag, Status: b[2]}

	extWords := int(b[3])
	offset := 4

	if len(b) < offset+extWords*2 {
		return reply{}, errors.Wrapf(ErrMalformed, "reply declares %d extended status words", extWords)
	}

	for i := 0; i < extWords; i++ {
		r.ExtStatus = append(r.ExtStatus, binary.LittleEndian.Uint16(b[offset:offset+2]))
		offset += 2
	}

	r.Data = b[offset:]

	return r, nil
}
