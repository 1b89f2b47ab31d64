// Package enip implements the discovery transport over EtherNet/IP explicit messaging.
package enip

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/metal-toolbox/logixinvent/internal/catalog"
	"github.com/metal-toolbox/logixinvent/internal/cippath"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPort    = 44818
	DefaultTimeout = 5 * time.Second

	// originatorVendorID is sent in forward open requests.
	originatorVendorID uint16 = 0x1337
)

var (
	errForwardOpen = errors.New("forward open failed")
)

// Transport opens EtherNet/IP sessions to the network address at the head of a path.
type Transport struct {
	port         int
	timeout      time.Duration
	logger       *logrus.Logger
	originatorSN uint32
	// connSerial is incremented for every forward open.
	connSerial uint32
}

// Option sets a Transport parameter.
type Option func(*Transport)

// WithPort sets the EtherNet/IP TCP port.
func WithPort(port int) Option {
	return func(t *Transport) {
		t.port = port
	}
}

// WithTimeout sets the dial and per exchange timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.timeout = timeout
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// New returns an EtherNet/IP transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		port:    DefaultPort,
		timeout: DefaultTimeout,
		logger:  logrus.New(),
	}

	for _, opt := range opts {
		opt(t)
	}

	var sn [4]byte
	_, _ = rand.Read(sn[:])
	t.originatorSN = binary.LittleEndian.Uint32(sn[:])

	return t
}

// Open dials the network address of path and registers an encapsulation session.
func (t *Transport) Open(ctx context.Context, path string) (transport.Session, error) {
	route, err := cippath.Parse(path)
	if err != nil {
		return nil, &transport.ConnectError{Path: path, Err: err}
	}

	dialer := &net.Dialer{Timeout: t.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(route.Host, strconv.Itoa(t.port)))
	if err != nil {
		return nil, &transport.ConnectError{Path: path, Err: err}
	}

	s := &session{
		conn:         conn,
		path:         path,
		route:        route,
		timeout:      t.timeout,
		originatorSN: t.originatorSN,
		connSerial:   uint16(atomic.AddUint32(&t.connSerial, 1)),
		logger: t.logger.WithFields(logrus.Fields{
			"component": "enip",
			"path":      path,
		}),
	}

	if _, err := rand.Read(s.senderContext[:]); err != nil {
		conn.Close()
		return nil, &transport.ConnectError{Path: path, Err: err}
	}

	if err := s.register(ctx); err != nil {
		conn.Close()
		return nil, &transport.ConnectError{Path: path, Err: err}
	}

	return s, nil
}

type session struct {
	conn          net.Conn
	path          string
	route         cippath.Route
	timeout       time.Duration
	logger        *logrus.Entry
	handle        uint32
	senderContext [8]byte
	originatorSN  uint32
	connSerial    uint16

	// connected messaging state, set up on the first connected exchange
	connected      bool
	otConnectionID uint32
	sequence       uint16
}

func (s *session) register(ctx context.Context) error {
	h, _, err := s.roundTrip(ctx, cmdRegisterSession, registerSessionData())
	if err != nil {
		return errors.Wrap(err, "register session")
	}

	s.handle = h.Session

	s.logger.WithField("session", h.Session).Trace("session registered")

	return nil
}

// roundTrip writes one encapsulation packet and reads the reply.
func (s *session) roundTrip(ctx context.Context, command uint16, data []byte) (header, []byte, error) {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := s.conn.SetDeadline(deadline); err != nil {
		return header{}, nil, err
	}

	req := header{Command: command, Session: s.handle, Context: s.senderContext}
	if _, err := s.conn.Write(req.encode(data)); err != nil {
		return header{}, nil, err
	}

	h, body, err := readPacket(s.conn)
	if err != nil {
		return header{}, nil, err
	}

	if h.Status != 0 {
		return h, nil, errors.Wrapf(ErrEncap, "command 0x%04x status 0x%08x", command, h.Status)
	}

	return h, body, nil
}

// Exchange sends the request unconnected (routed through an Unconnected Send when the path has hops)
// or over a CIP connection opened on first use.
func (s *session) Exchange(ctx context.Context, request catalog.Template) ([]byte, error) {
	msg := encodeRequest(request)

	var (
		r   reply
		err error
	)

	if request.Connected() {
		r, err = s.exchangeConnected(ctx, request, msg)
	} else {
		if request.Routed && len(s.route.Hops) > 0 {
			msg = unconnectedSend(msg, s.route.Hops)
		}

		r, err = s.exchangeUnconnected(ctx, msg)
	}

	if err != nil {
		return nil, err
	}

	if r.Status != transport.StatusSuccess {
		return nil, &transport.ResponseError{
			Path:      s.path,
			Template:  request.Name,
			Status:    r.Status,
			ExtStatus: r.ExtStatus,
		}
	}

	s.logger.WithFields(logrus.Fields{
		"request": request.Name,
		"bytes":   len(r.Data),
	}).Trace("exchange complete")

	return r.Data, nil
}

func (s *session) exchangeUnconnected(ctx context.Context, msg []byte) (reply, error) {
	body := encodeCPF(
		cpfItem{Type: itemNullAddress},
		cpfItem{Type: itemUnconnectedData, Data: msg},
	)

	_, data, err := s.roundTrip(ctx, cmdSendRRData, body)
	if err != nil {
		return reply{}, s.ioError(err)
	}

	items, err := decodeCPF(data)
	if err != nil {
		return reply{}, err
	}

	payload, err := findItem(items, itemUnconnectedData)
	if err != nil {
		return reply{}, err
	}

	return decodeReply(payload)
}

func (s *session) exchangeConnected(ctx context.Context, request catalog.Template, msg []byte) (reply, error) {
	if !s.connected {
		if err := s.forwardOpen(ctx, request); err != nil {
			return reply{}, err
		}
	}

	s.sequence++

	connData := binary.LittleEndian.AppendUint16(nil, s.sequence)
	connData = append(connData, msg...)

	body := encodeCPF(
		cpfItem{Type: itemConnectedAddress, Data: binary.LittleEndian.AppendUint32(nil, s.otConnectionID)},
		cpfItem{Type: itemConnectedData, Data: connData},
	)

	_, data, err := s.roundTrip(ctx, cmdSendUnitData, body)
	if err != nil {
		return reply{}, s.ioError(err)
	}

	items, err := decodeCPF(data)
	if err != nil {
		return reply{}, err
	}

	payload, err := findItem(items, itemConnectedData)
	if err != nil {
		return reply{}, err
	}

	if len(payload) < 2 {
		return reply{}, errors.Wrap(ErrMalformed, "connected data item without sequence count")
	}

	return decodeReply(payload[2:])
}

func (s *session) connectionParams() connectionParams {
	return connectionParams{
		OTConnectionID: s.otConnectionID,
		TOConnectionID: uint32(s.connSerial) | 0x80000000,
		Serial:         s.connSerial,
		VendorID:       originatorVendorID,
		OriginatorSN:   s.originatorSN,
	}
}

func (s *session) forwardOpen(ctx context.Context, request catalog.Template) error {
	r, err := s.exchangeUnconnected(ctx, forwardOpenRequest(s.connectionParams(), s.route.Hops))
	if err != nil {
		return err
	}

	if r.Status != transport.StatusSuccess {
		return &transport.ResponseError{
			Path:      s.path,
			Template:  request.Name,
			Status:    r.Status,
			ExtStatus: r.ExtStatus,
		}
	}

	if len(r.Data) < 4 {
		return errors.Wrapf(errForwardOpen, "%s: reply is %d bytes", s.path, len(r.Data))
	}

	s.otConnectionID = binary.LittleEndian.Uint32(r.Data[0:4])
	s.connected = true

	s.logger.WithField("connection", s.otConnectionID).Trace("connection opened")

	return nil
}

// ioError converts socket failures after the session was opened into connect errors.
func (s *session) ioError(err error) error {
	if errors.Is(err, ErrEncap) {
		return err
	}

	return &transport.ConnectError{Path: s.path, Err: err}
}

// Close closes any open connection, unregisters the session and closes the socket.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if s.connected {
		if _, err := s.exchangeUnconnected(ctx, forwardCloseRequest(s.connectionParams(), s.route.Hops)); err != nil {
			s.logger.WithError(err).Debug("forward close failed")
		}

		s.connected = false
	}

	// the device does not reply to an unregister request
	req := header{Command: cmdUnRegisterSession, Session: s.handle, Context: s.senderContext}
	if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err == nil {
		_, _ = s.conn.Write(req.encode(nil))
	}

	return s.conn.Close()
}
