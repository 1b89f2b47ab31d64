package transport

// CIP general status codes
const (
	StatusSuccess             uint8 = 0x00
	StatusConnectionFailure   uint8 = 0x01
	StatusResourceUnavailable uint8 = 0x02
	StatusPathSegmentError    uint8 = 0x04
	StatusPathUnknown         uint8 = 0x05
	StatusPartialTransfer     uint8 = 0x06
	StatusConnectionLost      uint8 = 0x07
	StatusServiceNotSupported uint8 = 0x08
	StatusObjectStateConflict uint8 = 0x0C
	StatusDeviceStateConflict uint8 = 0x10
	StatusReplyDataTooLarge   uint8 = 0x11
	StatusNotEnoughData       uint8 = 0x13
	StatusAttrNotSupported    uint8 = 0x14
	StatusTooMuchData         uint8 = 0x15
	StatusObjectNotExist      uint8 = 0x16
	StatusInvalidRequest      uint8 = 0x1A
	StatusGeneralError        uint8 = 0xFF
)

var statusNames = map[uint8]string{
	StatusSuccess:             "success",
	StatusConnectionFailure:   "connection failure",
	StatusResourceUnavailable: "resource unavailable",
	StatusPathSegmentError:    "path segment error",
	StatusPathUnknown:         "path destination unknown",
	StatusPartialTransfer:     "partial transfer",
	StatusConnectionLost:      "connection lost",
	StatusServiceNotSupported: "service not supported",
	StatusObjectStateConflict: "object state conflict",
	StatusDeviceStateConflict: "device state conflict",
	StatusReplyDataTooLarge:   "reply data too large",
	StatusNotEnoughData:       "not enough data",
	StatusAttrNotSupported:    "attribute not supported",
	StatusTooMuchData:         "too much data",
	StatusObjectNotExist:      "object does not exist",
	StatusInvalidRequest:      "invalid request",
	StatusGeneralError:        "general error",
}

// StatusName returns the name of a CIP general status code.
func StatusName(status uint8) string {
	if name, ok := statusNames[status]; ok {
		return name
	}

	return "unknown status"
}
