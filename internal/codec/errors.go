package codec

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDecode is the sentinel every DecodeError unwraps to.
	ErrDecode = errors.New("payload decode error")
)

// DecodeError is returned when a payload is shorter than its layout or otherwise malformed.
type DecodeError struct {
	// Layout names the structure being decoded.
	Layout string
	// Need is the number of bytes the layout requires, Got the number received.
	Need int
	Got  int
	// Reason is set for errors other than a short payload.
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s: %s", ErrDecode.Error(), e.Layout, e.Reason)
	}

	return fmt.Sprintf("%s: %s: need %d bytes, got %d", ErrDecode.Error(), e.Layout, e.Need, e.Got)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

func short(layout string, need, got int) error {
	return &DecodeError{Layout: layout, Need: need, Got: got}
}

func malformed(layout, reason string) error {
	return &DecodeError{Layout: layout, Reason: reason}
}
