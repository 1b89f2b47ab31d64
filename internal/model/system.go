package model

// System is one plant system discovered from a configured entry address.
type System struct {
	// Name labels the system in stored snapshots and re-roots module paths.
	Name      string `mapstructure:"name"`
	EntryPath string `mapstructure:"entry_path"`

	// DeepScan overrides the scan wide setting when set.
	DeepScan *bool `mapstructure:"deep_scan"`
}
