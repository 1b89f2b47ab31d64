package enip

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// encapsulation commands
const (
	cmdRegisterSession   uint16 = 0x0065
	cmdUnRegisterSession uint16 = 0x0066
	cmdSendRRData        uint16 = 0x006F
	cmdSendUnitData      uint16 = 0x0070

	headerLen = 24

	// common packet format item types
	itemNullAddress      uint16 = 0x0000
	itemConnectedAddress uint16 = 0x00A1
	itemConnectedData    uint16 = 0x00B1
	itemUnconnectedData  uint16 = 0x00B2

	protocolVersion uint16 = 1
)

var (
	ErrMalformed = errors.New("malformed EtherNet/IP packet")
	ErrEncap     = errors.New("encapsulation error status")
)

type header struct {
	Command uint16
	Length  uint16
	Session uint32
	Status  uint32
	Context [8]byte
	Options uint32
}

func (h header) encode(data []byte) []byte {
	b := make([]byte, headerLen, headerLen+len(data))

	binary.LittleEndian.PutUint16(b[0:2], h.Command)
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(data)))
	binary.LittleEndian.PutUint32(b[4:8], h.Session)
	binary.LittleEndian.PutUint32(b[8:12], h.Status)
	copy(b[12:20], h.Context[:])
	binary.LittleEndian.PutUint32(b[20:24], h.Options)

	return append(b, data...)
}

func decodeHeader(b []byte) (header, error) {
	if len(b) < headerLen {
		return header{}, errors.Wrapf(ErrMalformed, "header is %d bytes", len(b))
	}

	h := header{
		Command: binary.LittleEndian.Uint16(b[0:2]),
		Length:  binary.LittleEndian.Uint16(b[2:4]),
		Session: binary.LittleEndian.Uint32(b[4:8]),
		Status:  binary.LittleEndian.Uint32(b[8:12]),
		Options: binary.LittleEndian.Uint32(b[20:24]),
	}

	copy(h.Context[:], b[12:20])

	return h, nil
}

// readPacket reads one encapsulation packet.
func readPacket(r io.Reader) (header, []byte, error) {
	hb := make([]byte, headerLen)
	if _, err := io.ReadFull(r, hb); err != nil {
		return header{}, nil, err
	}

	h, err := decodeHeader(hb)
	if err != nil {
		return header{}, nil, err
	}

	data := make([]byte, h.Length)
	if _, err := io.ReadFull(r, data); err != nil {
		return header{}, nil, err
	}

	return h, data, nil
}

func registerSessionData() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], protocolVersion)

	return b
}

type cpfItem struct {
	Type uint16
	Data []byte
}

// encodeCPF returns the SendRRData / SendUnitData body: interface handle, timeout and the item list.
func encodeCPF(items ...cpfItem) []byte {
	b := make([]byte, 8)
	// interface handle and timeout stay zero for CIP
	binary.LittleEndian.PutUint16(b[6:8], uint16(len(items)))

	for _, item := range items {
		ib := make([]byte, 4)
		binary.LittleEndian.PutUint16(ib[0:2], item.Type)
		binary.LittleEndian.PutUint16(ib[2:4], uint16(len(item.Data)))
		b = append(b, ib...)
		b = append(b, item.Data...)
	}

	return b
}

func decodeCPF(b []byte) ([]cpfItem, error) {
	if len(b) < 8 {
		return nil, errors.Wrapf(ErrMalformed, "common packet format is %d bytes", len(b))
	}

	count := int(binary.LittleEndian.Uint16(b[6:8]))
	items := make([]cpfItem, 0, count)
	offset := 8

	for i := 0; i < count; i++ {
		if len(b) < offset+4 {
			return nil, errors.Wrap(ErrMalformed, "truncated item header")
		}

		typ := binary.LittleEndian.Uint16(b[offset : offset+2])
		n := int(binary.LittleEndian.Uint16(b[offset+2 : offset+4]))
		offset += 4

		if len(b) < offset+n {
			return nil, errors.Wrapf(ErrMalformed, "item 0x%04x needs %d bytes", typ, n)
		}

		items = append(items, cpfItem{Type: typ, Data: b[offset : offset+n]})
		offset += n
	}

	return items, nil
}

func findItem(items []cpfItem, typ uint16) ([]byte, error) {
	for _, item := range items {
		if item.Type == typ {
			return item.Data, nil
		}
	}

	return nil, errors.Wrap(ErrMalformed, fmt.Sprintf("missing item 0x%04x", typ))
}
