package store

import (
	"context"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MemStore keeps snapshots in memory, it holds deep copies of what it is given and returns.
type MemStore struct {
	mu *sync.RWMutex

	// topologies is a map of system names to their latest snapshot
	topologies map[string]*model.Topology
}

func NewMemStore() *MemStore {
	return &MemStore{topologies: map[string]*model.Topology{}, mu: &sync.RWMutex{}}
}

func deepCopy(src *model.Topology) (*model.Topology, error) {
	dst := &model.Topology{}
	if err := copier.CopyWithOption(dst, src, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.Wrap(ErrStore, err.Error())
	}

	return dst, nil
}

func (m *MemStore) SaveTopology(_ context.Context, topology *model.Topology) error {
	if err := validate(topology); err != nil {
		return err
	}

	stored, err := deepCopy(topology)
	if err != nil {
		countError(model.StoreKindMemory)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.topologies[topology.System] = stored

	return nil
}

func (m *MemStore) TopologyBySystem(_ context.Context, system string) (*model.Topology, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, exists := m.topologies[system]
	if !exists {
		return nil, errors.Wrap(ErrNotFound, "system "+system)
	}

	return deepCopy(stored)
}

func (m *MemStore) ModuleBySerial(_ context.Context, serial string) (*ModuleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *ModuleRecord

	for _, t := range m.topologies {
		record, exists := moduleRecord(t, serial)
		if !exists {
			continue
		}

		found = latest(found, record)
	}

	if found == nil {
		return nil, errors.Wrap(ErrNotFound, "module "+serial)
	}

	record := &ModuleRecord{}
	if err := copier.CopyWithOption(record, found, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.Wrap(ErrStore, err.Error())
	}

	return record, nil
}

func (m *MemStore) Systems(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	systems := maps.Keys(m.topologies)
	slices.Sort(systems)

	return systems, nil
}

func (m *MemStore) Close() error {
	return nil
}
