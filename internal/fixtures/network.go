package fixtures

import (
	"context"
	"sync"

	"github.com/metal-toolbox/logixinvent/internal/catalog"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/pkg/errors"
)

// StatusObjectDoesNotExist is returned by the simulated network for paths with no device behind them.
const StatusObjectDoesNotExist uint8 = 0x16

var errSimulatedUnreachable = errors.New("simulated unreachable path")

// Request is one exchange recorded by the simulated network.
type Request struct {
	Path     string
	Template string
}

// Device answers requests at one path.
type Device struct {
	responses map[string][]byte
	failures  map[string]error
}

// Answer sets the payload returned for the template.
func (d *Device) Answer(tmpl catalog.Template, payload []byte) *Device {
	d.responses[tmpl.Name] = payload
	return d
}

// Decline sets the error returned for the template.
func (d *Device) Decline(tmpl catalog.Template, err error) *Device {
	d.failures[tmpl.Name] = err
	return d
}

func (d *Device) lookup(tmpl catalog.Template) (payload []byte, found bool, err error) {
	name := tmpl.Name

	// a device answering a request unconnected answers it connected as well
	switch tmpl.Name {
	case catalog.WhoConnected.Name:
		name = catalog.Who.Name
	case catalog.BackplaneStatusConnected.Name:
		name = catalog.BackplaneStatus.Name
	}

	for _, n := range []string{tmpl.Name, name} {
		if err, ok := d.failures[n]; ok {
			return nil, true, err
		}

		if payload, ok := d.responses[n]; ok {
			return payload, true, nil
		}
	}

	return nil, false, nil
}

// Network is a simulated plant network, a transport.Transport answering from devices declared by path.
//
// Paths with no device answer every request with a ResponseError carrying the Missing status,
// paths marked unreachable fail to open with a ConnectError.
type Network struct {
	mu          sync.Mutex
	devices     map[string]*Device
	unreachable map[string]bool
	requests    []Request
	open        int

	// Missing is the general status returned for paths with no device.
	Missing uint8
	// MissingExt is the extended status returned for paths with no device.
	MissingExt []uint16
}

// NewNetwork returns an empty simulated network.
func NewNetwork() *Network {
	return &Network{
		devices:     map[string]*Device{},
		unreachable: map[string]bool{},
		Missing:     StatusObjectDoesNotExist,
	}
}

// Device returns the device at path, declaring it when it does not exist yet.
func (n *Network) Device(path string) *Device {
	n.mu.Lock()
	defer n.mu.Unlock()

	d, ok := n.devices[path]
	if !ok {
		d = &Device{responses: map[string][]byte{}, failures: map[string]error{}}
		n.devices[path] = d
	}

	return d
}

// Unreachable makes sessions to the path fail to open.
func (n *Network) Unreachable(paths ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, p := range paths {
		n.unreachable[p] = true
	}
}

// Requests returns the exchanges made so far in order.
func (n *Network) Requests() []Request {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]Request(nil), n.requests...)
}

// Count returns the number of exchanges made with the template at path.
func (n *Network) Count(path string, tmpl catalog.Template) int {
	var count int

	for _, r := range n.Requests() {
		if r.Path == path && r.Template == tmpl.Name {
			count++
		}
	}

	return count
}

// OpenSessions returns the number of sessions opened and not yet closed.
func (n *Network) OpenSessions() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.open
}

// Open implements transport.Transport.
func (n *Network) Open(ctx context.Context, path string) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &transport.ConnectError{Path: path, Err: err}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.unreachable[path] {
		return nil, &transport.ConnectError{Path: path, Err: errSimulatedUnreachable}
	}

	n.open++

	return &session{network: n, path: path}, nil
}

type session struct {
	network *Network
	path    string
	closed  bool
}

func (s *session) Exchange(_ context.Context, request catalog.Template) ([]byte, error) {
	n := s.network

	n.mu.Lock()
	defer n.mu.Unlock()

	n.requests = append(n.requests, Request{Path: s.path, Template: request.Name})

	if d, ok := n.devices[s.path]; ok {
		if payload, found, err := d.lookup(request); found {
			return payload, err
		}
	}

	return nil, &transport.ResponseError{
		Path:      s.path,
		Template:  request.Name,
		Status:    n.Missing,
		ExtStatus: n.MissingExt,
	}
}

func (s *session) Close() error {
	n := s.network

	n.mu.Lock()
	defer n.mu.Unlock()

	if !s.closed {
		s.closed = true
		n.open--
	}

	return nil
}
