// Package scanner walks a single chassis or a single ControlNet segment.
//
// Scanners are stateless across calls, loop prevention across chassis is owned by the caller.
package scanner

import (
	"context"

	"github.com/metal-toolbox/logixinvent/internal/catalog"
	"github.com/metal-toolbox/logixinvent/internal/cippath"
	"github.com/metal-toolbox/logixinvent/internal/codec"
	"github.com/metal-toolbox/logixinvent/internal/metrics"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxSlots bounds the slot walk of a chassis that did not report its size.
	DefaultMaxSlots = 100
	// DefaultMaxNodeAddress is the highest ControlNet node address probed.
	DefaultMaxNodeAddress = 99

	outcomeOK          = "ok"
	outcomeDeclined    = "declined"
	outcomeUnreachable = "unreachable"
	outcomeMalformed   = "malformed"
	outcomeCancelled   = "cancelled"
)

// Config holds the scanner limits.
type Config struct {
	MaxSlots       int `mapstructure:"max_slots"`
	MaxNodeAddress int `mapstructure:"max_node_address"`

	// System re-roots emitted paths under the system name when set.
	System string `mapstructure:"-"`
}

// Scanner probes devices through a transport.
type Scanner struct {
	transport transport.Transport
	logger    *logrus.Logger
	config    Config
}

// New returns a scanner, zero limits in config are replaced with the defaults.
func New(t transport.Transport, logger *logrus.Logger, config Config) *Scanner {
	if config.MaxSlots <= 0 {
		config.MaxSlots = DefaultMaxSlots
	}

	if config.MaxNodeAddress <= 0 {
		config.MaxNodeAddress = DefaultMaxNodeAddress
	}

	return &Scanner{transport: t, logger: logger, config: config}
}

// probe sends one request in its own session.
func (s *Scanner) probe(ctx context.Context, path string, tmpl catalog.Template) ([]byte, error) {
	payload, err := transport.Query(ctx, s.transport, path, tmpl)
	metrics.ProbeCounter.WithLabelValues(tmpl.Name, outcome(ctx, err)).Inc()

	s.logger.WithFields(logrus.Fields{
		"path":     path,
		"template": tmpl.Describe(),
		"err":      err,
	}).Trace("probe")

	return payload, err
}

func outcome(ctx context.Context, err error) string {
	if err == nil {
		return outcomeOK
	}

	if ctx.Err() != nil {
		return outcomeCancelled
	}

	if _, ok := transport.AsResponseError(err); ok {
		return outcomeDeclined
	}

	return outcomeUnreachable
}

func malformed(tmpl catalog.Template) {
	metrics.ProbeCounter.WithLabelValues(tmpl.Name, outcomeMalformed).Inc()
}

// identify queries and decodes the identity object at path.
func (s *Scanner) identify(ctx context.Context, path string) (codec.Identity, error) {
	payload, err := s.probe(ctx, path, catalog.Who)
	if err != nil {
		return codec.Identity{}, err
	}

	id, err := codec.DecodeIdentity(payload)
	if err != nil {
		malformed(catalog.Who)
		return codec.Identity{}, errors.Wrap(err, path)
	}

	return id, nil
}

func (s *Scanner) backplaneStatus(ctx context.Context, path string) (codec.BackplaneStatus, error) {
	payload, err := s.probe(ctx, path, catalog.BackplaneStatus)
	if err != nil {
		return codec.BackplaneStatus{}, err
	}

	status, err := codec.DecodeBackplaneStatus(payload)
	if err != nil {
		malformed(catalog.BackplaneStatus)
		return codec.BackplaneStatus{}, errors.Wrap(err, path)
	}

	return status, nil
}

// ResolveBackplane returns the serial of the chassis holding the module at path without walking it.
//
// Devices declining the backplane status query resolve to their virtual backplane serial.
func (s *Scanner) ResolveBackplane(ctx context.Context, path string) (string, error) {
	status, err := s.backplaneStatus(ctx, path)
	if err == nil {
		return status.Serial, nil
	}

	if _, ok := transport.AsResponseError(err); !ok {
		return "", err
	}

	id, err := s.identify(ctx, path)
	if err != nil {
		return "", err
	}

	return codec.InvertSerial(id.SerialRaw), nil
}

func (s *Scanner) systemPath(path string) string {
	if s.config.System == "" {
		return ""
	}

	return cippath.Reroot(path, s.config.System)
}

// emit fills the system path and hands the module to the sink.
func (s *Scanner) emit(sk sink.Sink, m *model.Module) {
	m.SystemPath = s.systemPath(m.Path)
	sk.OnModule(*m)
}

func moduleFromIdentity(id codec.Identity, path string) model.Module {
	return model.Module{
		Serial:          id.Serial,
		VendorID:        id.VendorID,
		Vendor:          id.Vendor,
		ProductTypeID:   id.ProductTypeID,
		ProductTypeName: id.ProductTypeName,
		ProductCode:     id.ProductCode,
		MajorRev:        id.Major,
		MinorRev:        id.Minor,
		StatusBits:      id.Status,
		ProductName:     id.ProductName,
		Path:            path,
		State:           model.SlotPresent,
	}
}
