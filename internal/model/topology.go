package model

import (
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Topology is the snapshot of one system produced by a single discovery.
//
// nolint:govet // prefer readability over field alignment optimization for this case.
type Topology struct {
	System      string    `json:"system" yaml:"system"`
	EntryPath   string    `json:"entry_path" yaml:"entry_path"`
	ScanID      string    `json:"scan_id" yaml:"scan_id"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`

	// Complete is set once the discovery reported scan completion.
	Complete bool `json:"complete" yaml:"complete"`

	// Modules holds real hardware keyed by serial.
	Modules map[string]Module `json:"modules" yaml:"modules"`

	// Sentinels holds empty and unresponsive slot records.
	Sentinels []Module `json:"sentinels,omitempty" yaml:"sentinels,omitempty"`

	Backplanes map[string]BackplaneRecord `json:"backplanes" yaml:"backplanes"`
	Segments   []BusSegment               `json:"segments,omitempty" yaml:"segments,omitempty"`
	Failures   []Failure                  `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// NewTopology returns an empty topology for the system.
func NewTopology(system, entryPath string) *Topology {
	return &Topology{
		System:     system,
		EntryPath:  entryPath,
		Modules:    map[string]Module{},
		Backplanes: map[string]BackplaneRecord{},
	}
}

// ModuleSerials returns the module serials in sorted order.
func (t *Topology) ModuleSerials() []string {
	serials := maps.Keys(t.Modules)
	slices.Sort(serials)

	return serials
}

// BackplaneSerials returns the backplane serials in sorted order.
func (t *Topology) BackplaneSerials() []string {
	serials := maps.Keys(t.Backplanes)
	slices.Sort(serials)

	return serials
}

// ModulesIn returns the modules sitting in the given backplane ordered by slot.
func (t *Topology) ModulesIn(backplane string) []Module {
	found := []Module{}

	for _, m := range t.Modules {
		if m.BackplaneSerial == backplane {
			found = append(found, m)
		}
	}

	slices.SortFunc(found, func(a, b Module) int {
		return slotOf(a) - slotOf(b)
	})

	return found
}

func slotOf(m Module) int {
	if m.Slot == nil {
		return -1
	}

	return *m.Slot
}
