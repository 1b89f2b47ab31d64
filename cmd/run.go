package cmd

import (
	"context"
	"log"
	"time"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/metal-toolbox/logixinvent/internal/app"
	"github.com/metal-toolbox/logixinvent/internal/metrics"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/metal-toolbox/logixinvent/internal/store"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/metal-toolbox/logixinvent/internal/transport/enip"
	"github.com/metal-toolbox/logixinvent/internal/version"
	"github.com/metal-toolbox/logixinvent/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cmdRun = &cobra.Command{
	Use:   "run",
	Short: "Discover every configured system and save their topologies",
	Run: func(cmd *cobra.Command, _ []string) {
		runWorker(cmd.Context())
	},
}

// run worker command
var (
	useStatusKV bool
	interval    time.Duration
	storeKind   string
)

var (
	ErrStatusKV = errors.New("status KV error")
)

func runWorker(ctx context.Context) {
	logix, err := app.New(model.AppKindWorker, cfgFile, logLevel)
	if err != nil {
		log.Fatal(err)
	}

	if storeKind != "" {
		logix.Config.StoreKind = model.StoreKind(storeKind)
	}

	// serve metrics endpoint
	metrics.ListenAndServe(logix.Config.Metrics.ListenAddress)
	version.ExportBuildInfoMetric()

	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName)
	defer otelShutdown(ctx)

	// Setup cancel context with cancel func.
	ctx, cancelFunc := context.WithCancel(ctx)

	// routine listens for termination signal and cancels the context
	go func() {
		<-logix.TermCh
		logix.Logger.Info("got TERM signal, exiting...")
		cancelFunc()
	}()

	repository, err := initStore(logix.Config, logix.Logger)
	if err != nil {
		logix.Logger.Fatal(err)
	}
	defer repository.Close()

	opts := []worker.Option{
		worker.WithConcurrency(logix.Config.Concurrency),
		worker.WithRetries(logix.Config.Scan.Retries),
	}

	if useStatusKV {
		nc, kv, err := initStatusKV(logix)
		if err != nil {
			logix.Logger.Fatal(err)
		}
		defer nc.Close()

		opts = append(opts, worker.WithStatusKV(kv))
	}

	w := worker.New(
		initTransport(logix.Config, logix.Logger),
		repository,
		logix.Config.DiscoveryOptions(),
		logix.Logger,
		opts...,
	)

	for {
		outcomes, err := w.Run(ctx, logix.Config.Systems)
		if err != nil && outcomes == nil {
			logix.Logger.Fatal(err)
		}

		for _, o := range outcomes {
			logOutcome(logix.Logger, o)
		}

		if interval == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func logOutcome(logger *logrus.Logger, o worker.Outcome) {
	entry := logger.WithFields(logrus.Fields{
		"system":     o.System,
		"scanID":     o.ScanID,
		"modules":    o.Modules,
		"backplanes": o.Backplanes,
		"saved":      o.Saved,
		"elapsed":    o.Elapsed.String(),
	})

	if o.Err != nil {
		entry.WithError(o.Err).Error("system scan failed")
		return
	}

	entry.Info("system scan completed")
}

func initTransport(config *app.Configuration, logger *logrus.Logger) transport.Transport {
	return enip.New(
		enip.WithPort(config.ENIP.Port),
		enip.WithTimeout(config.ENIP.Timeout),
		enip.WithLogger(logger),
	)
}

func initStore(config *app.Configuration, logger *logrus.Logger) (store.Repository, error) {
	return store.NewRepository(config.StoreKind, config.StorePath, logger)
}

func initStatusKV(logix *app.App) (*nats.Conn, nats.KeyValue, error) {
	natsURL, natsCreds, connectTimeout, err := logix.NatsParams()
	if err != nil {
		return nil, nil, err
	}

	opts := []nats.Option{
		nats.Name(model.AppName),
		nats.Timeout(connectTimeout),
	}

	if natsCreds != "" {
		opts = append(opts, nats.UserCredentials(natsCreds))
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(ErrStatusKV, err.Error())
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, errors.Wrap(ErrStatusKV, err.Error())
	}

	kv, err := sink.BindStatusBucket(js, logix.Config.Nats.KVBucket, logix.Config.Nats.KVReplicas)
	if err != nil {
		nc.Close()
		return nil, nil, errors.Wrap(ErrStatusKV, err.Error())
	}

	return nc, kv, nil
}

func init() {
	cmdRun.PersistentFlags().StringVar(&storeKind, "store", "", "topology store - memory, json, yaml or sqlite, overrides store_kind")
	cmdRun.PersistentFlags().BoolVarP(&useStatusKV, "use-kv", "", false, "publish the status of running scans to a NATS KV bucket (requires nats.url)")
	cmdRun.PersistentFlags().DurationVar(&interval, "interval", 0, "repeat the discovery of every system at this interval, runs once when zero")

	rootCmd.AddCommand(cmdRun)
}
