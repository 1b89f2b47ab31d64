// Package worker discovers many systems concurrently and persists their topologies.
package worker

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/logixinvent/internal/discovery"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/metal-toolbox/logixinvent/internal/store"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/metal-toolbox/logixinvent/internal/version"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	pkgName = "internal/worker"

	defaultConcurrency = 2
)

var (
	ErrSystemConfig = errors.New("error in system configuration")
	ErrSystemScan   = errors.New("system scan failed")
)

// Outcome is the result of discovering one system.
type Outcome struct {
	System     string
	ScanID     string
	Modules    int
	Backplanes int
	Saved      bool
	Elapsed    time.Duration
	Err        error
}

// Worker discovers the configured systems.
type Worker struct {
	transport   transport.Transport
	repository  store.Repository
	statusKV    nats.KeyValue
	logger      *logrus.Logger
	options     discovery.Options
	concurrency int
	retries     int
}

// Option sets optional Worker parameters.
type Option func(*Worker)

// WithStatusKV publishes the status of each running discovery to kv.
func WithStatusKV(kv nats.KeyValue) Option {
	return func(w *Worker) {
		w.statusKV = kv
	}
}

// WithConcurrency sets the number of systems discovered at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		w.concurrency = n
	}
}

// WithRetries sets the number of attempts made to reach the entry chassis of each system.
func WithRetries(n int) Option {
	return func(w *Worker) {
		w.retries = n
	}
}

// New returns a worker, options holds the scan settings shared by every system.
func New(t transport.Transport, repository store.Repository, options discovery.Options, logger *logrus.Logger, opts ...Option) *Worker {
	w := &Worker{
		transport:   t,
		repository:  repository,
		logger:      logger,
		options:     options,
		concurrency: defaultConcurrency,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// validate checks every system has a unique name and an entry path.
func validate(systems []model.System) error {
	if len(systems) == 0 {
		return errors.Wrap(ErrSystemConfig, "no systems configured")
	}

	seen := map[string]bool{}

	for _, s := range systems {
		if s.Name == "" || s.EntryPath == "" {
			return errors.Wrapf(ErrSystemConfig, "system %q: name and entry_path are required", s.Name)
		}

		if seen[s.Name] {
			return errors.Wrapf(ErrSystemConfig, "duplicate system name %q", s.Name)
		}

		seen[s.Name] = true
	}

	return nil
}

// Run discovers every system, at most the configured concurrency at once.
//
// Completed topologies are handed to a single writer goroutine which saves them to the repository.
// The returned error aggregates the failures of every system, the outcomes are returned in the order
// the systems were given.
func (w *Worker) Run(ctx context.Context, systems []model.System) ([]Outcome, error) {
	if err := validate(systems); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"Run",
		trace.WithAttributes(attribute.Int("systems", len(systems))),
	)
	defer span.End()

	v := version.Current()
	w.logger.WithFields(
		logrus.Fields{
			"version":     v.AppVersion,
			"commit":      v.GitCommit,
			"branch":      v.GitBranch,
			"systems":     len(systems),
			"concurrency": w.concurrency,
			"deepScan":    w.options.DeepScan,
		},
	).Info("logixinvent worker running")

	outcomes := make([]Outcome, len(systems))
	for i, s := range systems {
		outcomes[i].System = s.Name
	}

	type completed struct {
		index    int
		topology *model.Topology
	}

	completedCh := make(chan completed)
	writerDone := make(chan struct{})

	// the writer is the only goroutine saving to the repository
	go func() {
		defer close(writerDone)

		for c := range completedCh {
			if err := w.repository.SaveTopology(ctx, c.topology); err != nil {
				w.logger.WithError(err).WithField("system", c.topology.System).Error("topology save failed")

				outcomes[c.index].Err = errors.Wrap(err, c.topology.System)

				continue
			}

			outcomes[c.index].Saved = true
		}
	}()

	limiter := NewLimiter(w.concurrency)

	for i := range systems {
		i := i

		err := limiter.DispatchWait(ctx, func() {
			topology, err := w.discover(ctx, systems[i], &outcomes[i])
			if err != nil {
				outcomes[i].Err = err
				return
			}

			completedCh <- completed{index: i, topology: topology}
		})
		if err != nil {
			for j := i; j < len(systems); j++ {
				outcomes[j].Err = errors.Wrap(ErrSystemScan, "not started: "+err.Error())
			}

			break
		}
	}

	limiter.StopWait()
	close(completedCh)
	<-writerDone

	var errs *multierror.Error

	for _, o := range outcomes {
		if o.Err != nil {
			errs = multierror.Append(errs, errors.Wrap(o.Err, o.System))
		}
	}

	return outcomes, errs.ErrorOrNil()
}

// discover runs the discovery of one system, the outcome fields are set on o except for Err and Saved.
func (w *Worker) discover(ctx context.Context, system model.System, o *Outcome) (*model.Topology, error) {
	options := w.options
	options.System = system.Name

	if system.DeepScan != nil {
		options.DeepScan = *system.DeepScan
	}

	collector := sink.NewCollector(system.Name, system.EntryPath)

	sinks := sink.Multi{
		collector,
		sink.NewLogger(w.logger, system.Name),
		sink.NewMetrics(system.Name),
	}

	if w.statusKV != nil {
		sinks = append(sinks, sink.NewStatusKV(w.statusKV, system.Name, "", w.logger))
	}

	started := time.Now()
	controller := discovery.New(w.transport, w.logger, options)

	result, err := discovery.DiscoverWithRetries(ctx, controller, system.EntryPath, sinks, w.retries)

	o.Elapsed = time.Since(started)

	if result != nil {
		o.ScanID = result.ScanID.String()
		o.Backplanes = result.Backplanes
	}

	if err != nil {
		return nil, errors.Wrap(ErrSystemScan, err.Error())
	}

	topology, err := collector.Topology()
	if err != nil {
		return nil, errors.Wrap(ErrSystemScan, err.Error())
	}

	o.Modules = len(topology.Modules)

	return topology, nil
}
