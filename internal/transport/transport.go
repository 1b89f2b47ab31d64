// Package transport defines the request/response session discovery runs over.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/metal-toolbox/logixinvent/internal/catalog"
	"github.com/pkg/errors"
)

//go:generate mockgen -source transport.go -destination=../fixtures/transport_mock.go -package=fixtures

// Transport opens sessions to devices addressed by a CIP path.
type Transport interface {
	// Open opens a session to the device at path, it returns a *ConnectError when the device is unreachable.
	Open(ctx context.Context, path string) (Session, error)
}

// Session exchanges requests with one device.
type Session interface {
	// Exchange sends the request and returns the response payload,
	// it returns a *ResponseError when the device declined the request.
	Exchange(ctx context.Context, request catalog.Template) ([]byte, error)

	// Close releases the session.
	Close() error
}

var (
	ErrConnect  = errors.New("connect error")
	ErrResponse = errors.New("response error")
)

// ConnectError is returned when a session to the path could not be opened.
type ConnectError struct {
	Path string
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrConnect.Error(), e.Path)
	}

	return fmt.Sprintf("%s: %s: %s", ErrConnect.Error(), e.Path, e.Err.Error())
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func (e *ConnectError) Is(target error) bool {
	return target == ErrConnect
}

// ResponseError is returned when the target was reachable but declined or failed the request.
type ResponseError struct {
	Path     string
	Template string
	// Status is the CIP general status.
	Status uint8
	// ExtStatus holds the additional status words, if any.
	ExtStatus []uint16
}

func (e *ResponseError) Error() string {
	var ext string
	if len(e.ExtStatus) > 0 {
		words := make([]string, 0, len(e.ExtStatus))
		for _, w := range e.ExtStatus {
			words = append(words, fmt.Sprintf("0x%04x", w))
		}

		ext = " ext=" + strings.Join(words, ",")
	}

	return fmt.Sprintf(
		"%s: %s %s: status 0x%02x (%s)%s",
		ErrResponse.Error(), e.Path, e.Template, e.Status, StatusName(e.Status), ext,
	)
}

func (e *ResponseError) Is(target error) bool {
	return target == ErrResponse
}

// Extended returns the first extended status word and true when one is present.
func (e *ResponseError) Extended() (uint16, bool) {
	if len(e.ExtStatus) == 0 {
		return 0, false
	}

	return e.ExtStatus[0], true
}

// IsConnectError returns true if err is or wraps a *ConnectError.
func IsConnectError(err error) bool {
	var connErr *ConnectError
	return errors.As(err, &connErr)
}

// AsResponseError returns the *ResponseError err is or wraps.
func AsResponseError(err error) (*ResponseError, bool) {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr, true
	}

	return nil, false
}

// Query opens a session to path, exchanges the request and closes the session on every return path.
func Query(ctx context.Context, t Transport, path string, request catalog.Template) ([]byte, error) {
	session, err := t.Open(ctx, path)
	if err != nil {
		if !IsConnectError(err) {
			err = &ConnectError{Path: path, Err: err}
		}

		return nil, err
	}

	// close errors do not invalidate a completed exchange
	defer session.Close()

	return session.Exchange(ctx, request)
}
