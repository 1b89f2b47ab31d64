// Package discovery walks a plant network from one entry address, recursing across chassis and
// ControlNet segments until every reachable backplane has been visited once.
package discovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/logixinvent/internal/metrics"
	"github.com/metal-toolbox/logixinvent/internal/scanner"
	sm "github.com/metal-toolbox/logixinvent/internal/statemachine"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	pkgName = "internal/discovery"
)

var (
	ErrEntryPath = errors.New("entry path is required")
)

// Options configures a discovery.
type Options struct {
	// DeepScan expands the segments behind uplink modules, when unset uplinks are only reported.
	DeepScan bool `mapstructure:"deep_scan"`
	// MaxNodeAddress is the highest segment node address probed.
	MaxNodeAddress int `mapstructure:"max_node_address"`
	// MaxSlots bounds the slot walk of chassis that do not report their size.
	MaxSlots int `mapstructure:"max_slots"`
	// System re-roots emitted paths under this name when set.
	System string `mapstructure:"-"`
}

// State is the loop prevention state of one discovery.
type State struct {
	SeenBackplaneSerials map[string]bool
	SeenBusModuleSerials map[string]bool
}

func newState() *State {
	return &State{
		SeenBackplaneSerials: map[string]bool{},
		SeenBusModuleSerials: map[string]bool{},
	}
}

// Result summarizes a discovery.
type Result struct {
	ScanID     uuid.UUID
	Started    time.Time
	Completed  time.Time
	Backplanes int
	Segments   int
	// Errors aggregates every abandoned branch and every record that failed to decode.
	Errors error
}

// Controller runs discoveries, it holds no per discovery state and may run discoveries concurrently.
type Controller struct {
	transport transport.Transport
	logger    *logrus.Logger
	options   Options
}

// New returns a discovery controller.
func New(t transport.Transport, logger *logrus.Logger, options Options) *Controller {
	if options.MaxNodeAddress <= 0 {
		options.MaxNodeAddress = scanner.DefaultMaxNodeAddress
	}

	if options.MaxSlots <= 0 {
		options.MaxSlots = scanner.DefaultMaxSlots
	}

	return &Controller{transport: t, logger: logger, options: options}
}

// Discover walks the network reachable from entryPath and reports every record to sk.
//
// The returned error is set when the entry chassis itself could not be scanned, failures on deeper
// branches are reported to the sink and aggregated in Result.Errors.
func (c *Controller) Discover(ctx context.Context, entryPath string, sk sink.Sink) (*Result, error) {
	if entryPath == "" {
		return nil, ErrEntryPath
	}

	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"Discover",
		trace.WithAttributes(
			attribute.String("entryPath", entryPath),
			attribute.String("system", c.options.System),
			attribute.Bool("deepScan", c.options.DeepScan),
		),
	)
	defer span.End()

	result := &Result{ScanID: uuid.New(), Started: time.Now()}
	sink.SetScanID(sk, result.ScanID.String())

	r := &run{
		options: c.options,
		scanner: scanner.New(c.transport, c.logger, scanner.Config{
			MaxSlots:       c.options.MaxSlots,
			MaxNodeAddress: c.options.MaxNodeAddress,
			System:         c.options.System,
		}),
		sink:  sk,
		state: newState(),
		logger: c.logger.WithFields(logrus.Fields{
			"system": c.options.System,
			"scanID": result.ScanID.String(),
		}),
	}

	r.sm = sm.NewChassisStateMachine(r)

	r.logger.WithField("entry", entryPath).Info("discovery started")

	err := r.visit(ctx, &frame{state: sm.StatePending, path: entryPath})

	result.Completed = time.Now()
	result.Backplanes = r.backplanes
	result.Segments = r.segments
	result.Errors = r.errs.ErrorOrNil()

	state := "succeeded"
	if err != nil {
		state = "failed"
		span.SetStatus(codes.Error, err.Error())
	} else {
		sk.OnScanComplete()
	}

	metrics.DiscoveryCounter.WithLabelValues(c.options.System, state).Inc()
	metrics.DiscoveryRunTimeSummary.WithLabelValues(c.options.System, state).
		Observe(result.Completed.Sub(result.Started).Seconds())

	r.logger.WithFields(logrus.Fields{
		"backplanes": result.Backplanes,
		"segments":   result.Segments,
		"state":      state,
		"elapsed":    result.Completed.Sub(result.Started).String(),
	}).Info("discovery completed")

	return result, err
}

// visit runs the chassis state machine on one frame.
func (r *run) visit(ctx context.Context, f *frame) error {
	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"Chassis",
		trace.WithAttributes(
			attribute.String("path", f.path),
			attribute.Int("depth", f.depth),
		),
	)
	defer span.End()

	f.ctx = ctx

	if err := r.sm.Run(f, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

// run is the state of one discovery.
type run struct {
	options Options
	scanner *scanner.Scanner
	sm      *sm.ChassisStateMachine
	sink    sink.Sink
	state   *State
	logger  *logrus.Entry

	backplanes int
	segments   int
	errs       *multierror.Error
}

// StateMachineJSON returns the JSON description of the chassis frame state machine.
func StateMachineJSON() ([]byte, error) {
	return sm.DescribeAsJSON()
}
