package sink

import (
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/metal-toolbox/logixinvent/internal/model"
)

// Collector accumulates the records of one discovery into a topology snapshot.
//
// A Collector is owned by a single discovery, completed snapshots are merged
// into persistent stores by the caller.
type Collector struct {
	Nop

	mu       sync.Mutex
	topology *model.Topology
}

// NewCollector returns a collector for the system scanned from entryPath.
func NewCollector(system, entryPath string) *Collector {
	t := model.NewTopology(system, entryPath)
	t.StartedAt = time.Now().UTC()

	return &Collector{topology: t}
}

func (c *Collector) OnModule(module model.Module) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if module.IsSentinel() {
		c.topology.Sentinels = append(c.topology.Sentinels, module)
		return
	}

	existing, ok := c.topology.Modules[module.Serial]
	if !ok {
		c.topology.Modules[module.Serial] = module
		return
	}

	c.topology.Modules[module.Serial] = merge(existing, module)
}

// merge fills the optional fields of a module seen earlier with the values observed later,
// a module reached both as a chassis slot and as a bus node keeps its slot.
func merge(existing, later model.Module) model.Module {
	if existing.Slot == nil {
		existing.Slot = later.Slot
		existing.Path = later.Path
		existing.SystemPath = later.SystemPath
	}

	if existing.BackplaneSerial == "" {
		existing.BackplaneSerial = later.BackplaneSerial
	}

	if existing.BusNodeAddress == nil {
		existing.BusNodeAddress = later.BusNodeAddress
	}

	if existing.ProgramName == "" {
		existing.ProgramName = later.ProgramName
	}

	if len(existing.FlexModules) == 0 {
		existing.FlexModules = later.FlexModules
	}

	return existing
}

func (c *Collector) OnBackplane(backplane model.BackplaneRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.topology.Backplanes[backplane.Serial] = backplane
}

func (c *Collector) OnBusSegment(segment model.BusSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.topology.Segments = append(c.topology.Segments, segment)
}

func (c *Collector) OnCommunicationError(path, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.topology.Failures = append(c.topology.Failures, model.Failure{Path: path, Reason: reason})
}

func (c *Collector) OnScanComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.topology.Complete = true
	c.topology.CompletedAt = time.Now().UTC()
}

// SetScanID starts a new snapshot for the scan, records of an earlier attempt are dropped.
func (c *Collector) SetScanID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := model.NewTopology(c.topology.System, c.topology.EntryPath)
	t.ScanID = id
	t.StartedAt = time.Now().UTC()

	c.topology = t
}

// Topology returns a deep copy of the snapshot collected so far.
func (c *Collector) Topology() (*model.Topology, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dst := &model.Topology{}
	if err := copier.CopyWithOption(dst, c.topology, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}

	return dst, nil
}
