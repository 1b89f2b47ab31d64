package app

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	runtime "github.com/banzaicloud/logrus-runtime-formatter"
	"github.com/bombsimon/logrusr/v2"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

// App holds attributes for the logixinvent application
type App struct {
	// Sync waitgroup to wait for running go routines on termination.
	SyncWG *sync.WaitGroup
	// logixinvent configuration.
	Config *Configuration
	// TermCh is the channel to terminate the app based on a signal
	TermCh chan os.Signal
	// Logger is the app logger
	Logger *logrus.Logger
	// v is the viper instance the configuration is read with.
	v *viper.Viper
}

// New returns a new instance of the logixinvent app
func New(appKind model.AppKind, cfgFile string, loglevel int) (*App, error) {
	app := &App{
		v:      viper.New(),
		Config: &Configuration{AppKind: appKind},
		SyncWG: &sync.WaitGroup{},
		Logger: logrus.New(),
		TermCh: make(chan os.Signal, 1),
	}

	if err := app.LoadConfiguration(cfgFile); err != nil {
		return nil, err
	}

	// flags take precedence over the configured level
	if loglevel == model.LogLevelInfo {
		loglevel = levelFromConfig(app.Config.LogLevel)
	}

	// set log level, format
	switch loglevel {
	case model.LogLevelDebug:
		app.Logger.Level = logrus.DebugLevel
	case model.LogLevelTrace:
		app.Logger.Level = logrus.TraceLevel
	default:
		app.Logger.Level = logrus.InfoLevel
	}

	app.Logger.SetFormatter(
		&runtime.Formatter{ChildFormatter: &logrus.JSONFormatter{}},
	)

	// otel reports its internal errors through the app logger
	otel.SetLogger(logrusr.New(app.Logger))

	// register for SIGINT, SIGTERM
	signal.Notify(app.TermCh, syscall.SIGINT, syscall.SIGTERM)

	return app, nil
}

func levelFromConfig(level string) int {
	switch level {
	case "debug":
		return model.LogLevelDebug
	case "trace":
		return model.LogLevelTrace
	default:
		return model.LogLevelInfo
	}
}
