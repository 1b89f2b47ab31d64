// Package store persists topology snapshots produced by discovery.
package store

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/metal-toolbox/logixinvent/internal/metrics"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound  = errors.New("not found in store")
	ErrStore     = errors.New("store error")
	ErrStoreKind = errors.New("unsupported store kind")
)

// ModuleRecord is a module looked up by serial, along with the system and scan it was last seen in.
type ModuleRecord struct {
	System string       `json:"system" yaml:"system"`
	ScanID string       `json:"scan_id" yaml:"scan_id"`
	SeenAt time.Time    `json:"seen_at" yaml:"seen_at"`
	Module model.Module `json:"module" yaml:"module"`
}

// Repository stores the latest topology snapshot of each system.
type Repository interface {
	// SaveTopology replaces the stored snapshot for the topology system.
	SaveTopology(ctx context.Context, topology *model.Topology) error

	// TopologyBySystem returns the latest snapshot stored for the system.
	TopologyBySystem(ctx context.Context, system string) (*model.Topology, error)

	// ModuleBySerial returns the most recently stored record of the module.
	ModuleBySerial(ctx context.Context, serial string) (*ModuleRecord, error)

	// Systems returns the names of the systems with a stored snapshot, sorted.
	Systems(ctx context.Context) ([]string, error)

	Close() error
}

// NewRepository returns the repository of the given kind, path is the store directory
// for file stores and the database file for sqlite, it is ignored by the memory store.
func NewRepository(kind model.StoreKind, path string, logger *logrus.Logger) (Repository, error) {
	switch kind {
	case model.StoreKindMemory, "":
		return NewMemStore(), nil
	case model.StoreKindJSON, model.StoreKindYAML:
		return NewFileStore(path, kind, logger)
	case model.StoreKindSQLite:
		// a store directory holds the default database file
		if path != memoryDatabase && filepath.Ext(path) == "" {
			path = filepath.Join(path, DefaultSQLiteFile)
		}

		return NewSQLiteStore(path, logger)
	default:
		return nil, errors.Wrap(ErrStoreKind, string(kind))
	}
}

func validate(topology *model.Topology) error {
	if topology == nil {
		return errors.Wrap(ErrStore, "nil topology")
	}

	if strings.TrimSpace(topology.System) == "" {
		return errors.Wrap(ErrStore, "topology has no system name")
	}

	return nil
}

// moduleRecord returns the record of the module when the topology holds it.
func moduleRecord(topology *model.Topology, serial string) (*ModuleRecord, bool) {
	module, exists := topology.Modules[serial]
	if !exists {
		return nil, false
	}

	return &ModuleRecord{
		System: topology.System,
		ScanID: topology.ScanID,
		SeenAt: topology.StartedAt,
		Module: module,
	}, true
}

// latest returns the most recently seen of the two records.
func latest(a, b *ModuleRecord) *ModuleRecord {
	if a == nil {
		return b
	}

	if b == nil || !b.SeenAt.After(a.SeenAt) {
		return a
	}

	return b
}

func countError(kind model.StoreKind) {
	metrics.StoreQueryErrorCount.WithLabelValues(string(kind)).Inc()
}
