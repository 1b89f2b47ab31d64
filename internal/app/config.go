package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeremywohl/flatten"
	"github.com/metal-toolbox/logixinvent/internal/discovery"
	"github.com/metal-toolbox/logixinvent/internal/metrics"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/metal-toolbox/logixinvent/internal/scanner"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/metal-toolbox/logixinvent/internal/transport/enip"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

const (
	WorkerConcurrency         = 2
	defaultNatsConnectTimeout = 60 * time.Second
	defaultScanRetries        = 3

	// ControlNet node addresses range from 1 to 99, 0 is probed as well.
	maxBusNodeAddress = 99
)

var (
	ErrConfig = errors.New("configuration error")
)

// Configuration holds application configuration read from a YAML or set by env variables.
//
// nolint:govet // prefer readability over field alignment optimization for this case.
type Configuration struct {
	// LogLevel is the app verbose logging level.
	// one of - info, debug, trace
	LogLevel string `mapstructure:"log_level"`

	// AppKind is the application kind - scanner / worker / client
	AppKind model.AppKind `mapstructure:"app_kind"`

	// Concurrency is the number of systems discovered at once by the worker.
	Concurrency int `mapstructure:"concurrency"`

	// StoreKind is the topology snapshot store - one of memory, json, yaml, sqlite.
	StoreKind model.StoreKind `mapstructure:"store_kind"`

	// StorePath is the snapshot directory for file stores and the database file for sqlite.
	StorePath string `mapstructure:"store_path"`

	Scan    ScanOptions    `mapstructure:"scan"`
	ENIP    ENIPOptions    `mapstructure:"enip"`
	Metrics MetricsOptions `mapstructure:"metrics"`
	Nats    NatsOptions    `mapstructure:"nats"`

	// Systems lists the systems discovered by the worker.
	Systems []model.System `mapstructure:"systems"`
}

// ScanOptions holds the discovery settings shared by every system.
type ScanOptions struct {
	MaxSlots       int  `mapstructure:"max_slots"`
	MaxNodeAddress int  `mapstructure:"max_node_address"`
	DeepScan       bool `mapstructure:"deep_scan"`
	Retries        int  `mapstructure:"retries"`
}

// ENIPOptions configures the EtherNet/IP transport.
type ENIPOptions struct {
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsOptions struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// NatsOptions configures the optional scan status KV bucket.
type NatsOptions struct {
	URL            string        `mapstructure:"url"`
	CredsFile      string        `mapstructure:"creds_file"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	KVBucket       string        `mapstructure:"kv_bucket"`
	KVReplicas     int           `mapstructure:"kv_replicas"`
}

// DiscoveryOptions returns the discovery options the configured scan settings translate to.
func (c *Configuration) DiscoveryOptions() discovery.Options {
	return discovery.Options{
		DeepScan:       c.Scan.DeepScan,
		MaxNodeAddress: c.Scan.MaxNodeAddress,
		MaxSlots:       c.Scan.MaxSlots,
	}
}

// System returns the configured system with the given name.
func (c *Configuration) System(name string) (model.System, bool) {
	idx := slices.IndexFunc(c.Systems, func(s model.System) bool { return s.Name == name })
	if idx < 0 {
		return model.System{}, false
	}

	return c.Systems[idx], true
}

// defaultStorePath returns the directory snapshots are kept in when store_path is not set.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return model.AppName
	}

	return filepath.Join(home, ".config", model.AppName)
}

// defaultConfigFile returns ~/.logixinvent.yml when it exists.
func defaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	cfgFile := filepath.Join(home, "."+model.AppName+".yml")
	if _, err := os.Stat(cfgFile); err != nil {
		return ""
	}

	return cfgFile
}

func (a *App) setDefaults() {
	a.v.SetDefault("log_level", "info")
	a.v.SetDefault("concurrency", WorkerConcurrency)
	a.v.SetDefault("store_kind", string(model.StoreKindJSON))
	a.v.SetDefault("store_path", defaultStorePath())
	a.v.SetDefault("scan.max_slots", scanner.DefaultMaxSlots)
	a.v.SetDefault("scan.max_node_address", scanner.DefaultMaxNodeAddress)
	a.v.SetDefault("scan.deep_scan", true)
	a.v.SetDefault("scan.retries", defaultScanRetries)
	a.v.SetDefault("enip.port", enip.DefaultPort)
	a.v.SetDefault("enip.timeout", enip.DefaultTimeout)
	a.v.SetDefault("metrics.listen_address", metrics.MetricsEndpoint)
	a.v.SetDefault("nats.connect_timeout", defaultNatsConnectTimeout)
	a.v.SetDefault("nats.kv_bucket", sink.DefaultStatusKVName)
	a.v.SetDefault("nats.kv_replicas", 1)
}

// LoadConfiguration loads application configuration
//
// Reads in the cfgFile when available and overrides from environment variables.
func (a *App) LoadConfiguration(cfgFile string) error {
	a.v.SetConfigType("yaml")
	a.v.SetEnvPrefix(model.AppName)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = defaultConfigFile()
	}

	if cfgFile != "" {
		fh, err := os.Open(cfgFile)
		if err != nil {
			return errors.Wrap(ErrConfig, err.Error())
		}
		defer fh.Close()

		if err = a.v.ReadConfig(fh); err != nil {
			return errors.Wrap(ErrConfig, "ReadConfig error:"+err.Error())
		}
	}

	a.setDefaults()

	if err := a.envBindVars(); err != nil {
		return errors.Wrap(ErrConfig, "env var bind error:"+err.Error())
	}

	appKind := a.Config.AppKind

	if err := a.v.Unmarshal(a.Config); err != nil {
		return errors.Wrap(ErrConfig, "Unmarshal error: "+err.Error())
	}

	// the app kind is set by the command being run
	if appKind != "" {
		a.Config.AppKind = appKind
	}

	return a.validate()
}

// envBindVars binds environment variables to the struct
// without a configuration file being unmarshalled,
// this is a workaround for a viper bug,
//
// This can be replaced by the solution in https://github.com/spf13/viper/pull/1429
// once that PR is merged.
func (a *App) envBindVars() error {
	envKeysMap := map[string]interface{}{}
	if err := mapstructure.Decode(a.Config, &envKeysMap); err != nil {
		return err
	}

	// Flatten nested conf map
	flat, err := flatten.Flatten(envKeysMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten config")
	}

	for k := range flat {
		if err := a.v.BindEnv(k); err != nil {
			return errors.Wrap(ErrConfig, "env var bind error: "+err.Error())
		}
	}

	return nil
}

// nolint:gocyclo // parameter validation is cyclomatic
func (a *App) validate() error {
	c := a.Config

	if !slices.Contains(model.StoreKinds(), c.StoreKind) {
		return errors.Wrap(ErrConfig, fmt.Sprintf("store_kind %q, expected one of %v", c.StoreKind, model.StoreKinds()))
	}

	if c.StoreKind != model.StoreKindMemory && c.StorePath == "" {
		return errors.Wrap(ErrConfig, "store_path required for store_kind "+string(c.StoreKind))
	}

	if c.Concurrency < 1 {
		return errors.Wrap(ErrConfig, "concurrency must be at least 1")
	}

	if c.Scan.MaxNodeAddress < 0 || c.Scan.MaxNodeAddress > maxBusNodeAddress {
		return errors.Wrap(ErrConfig, fmt.Sprintf("scan.max_node_address must be within 0-%d", maxBusNodeAddress))
	}

	if c.Scan.MaxSlots < 1 {
		return errors.Wrap(ErrConfig, "scan.max_slots must be at least 1")
	}

	if c.ENIP.Port < 1 || c.ENIP.Port > 65535 {
		return errors.Wrap(ErrConfig, "enip.port out of range")
	}

	if c.ENIP.Timeout <= 0 {
		return errors.Wrap(ErrConfig, "enip.timeout must be positive")
	}

	return nil
}

// NatsParams returns the NATS connection parameters, the creds file is optional.
func (a *App) NatsParams() (nurl, credsFile string, connectTimeout time.Duration, err error) {
	if a.v.GetString("nats.url") != "" {
		nurl = a.v.GetString("nats.url")
	}

	if nurl == "" {
		return "", "", 0, errors.Wrap(ErrConfig, "missing parameter: nats.url")
	}

	credsFile = a.v.GetString("nats.creds_file")

	connectTimeout = defaultNatsConnectTimeout
	if a.v.GetDuration("nats.connect_timeout") != 0 {
		connectTimeout = a.v.GetDuration("nats.connect_timeout")
	}

	return nurl, credsFile, connectTimeout, nil
}
