package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	scanTime = time.Date(2023, 11, 20, 10, 30, 0, 0, time.UTC)
)

func testTopology(system, scanID string, started time.Time) *model.Topology {
	t := model.NewTopology(system, "10.0.0.1")
	t.ScanID = scanID
	t.StartedAt = started
	t.CompletedAt = started.Add(time.Minute)
	t.Complete = true

	t.Backplanes["0000a000"] = model.BackplaneRecord{
		Serial:    "0000a000",
		SlotCount: model.IntPtr(10),
		Rev:       "2.1",
		Path:      "10.0.0.1",
		EntrySlot: model.IntPtr(1),
		Slots: []model.SlotRef{
			{Slot: 1, Serial: "00c0ffee", Name: "1756-ENBT/A", State: model.SlotPresent},
		},
	}

	t.Modules["00c0ffee"] = model.Module{
		Serial:          "00c0ffee",
		VendorID:        1,
		ProductCode:     166,
		MajorRev:        3,
		MinorRev:        1,
		ProductName:     "1756-ENBT/A",
		Path:            "10.0.0.1/bp/1",
		SystemPath:      system + "/bp/1",
		BackplaneSerial: "0000a000",
		Slot:            model.IntPtr(1),
		State:           model.SlotPresent,
	}

	t.Modules["0000a000"] = model.Module{
		Serial:      "0000a000",
		ProductName: "Backplane",
		Path:        "10.0.0.1",
		Size:        model.IntPtr(10),
		State:       model.SlotPresent,
	}

	t.Segments = []model.BusSegment{
		{
			BasePath:                "10.0.0.1/bp/2/cnet",
			UplinkSerial:            "00c0ffee",
			DiscoveredNodeAddresses: []int{1, 5},
			NodeSerials:             map[int]string{1: "00c0ffee", 5: "00b00002"},
		},
	}

	t.Failures = []model.Failure{{Path: "10.0.0.1/bp/4", Reason: "unreachable"}}

	return t
}

type repositoryCase struct {
	name string
	new  func(t *testing.T) Repository
}

func repositories() []repositoryCase {
	logger := logrus.New()

	return []repositoryCase{
		{
			"memory",
			func(t *testing.T) Repository { return NewMemStore() },
		},
		{
			"json",
			func(t *testing.T) Repository {
				s, err := NewFileStore(t.TempDir(), model.StoreKindJSON, logger)
				require.NoError(t, err)

				return s
			},
		},
		{
			"yaml",
			func(t *testing.T) Repository {
				s, err := NewFileStore(t.TempDir(), model.StoreKindYAML, logger)
				require.NoError(t, err)

				return s
			},
		},
		{
			"sqlite",
			func(t *testing.T) Repository {
				s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "topology.db"), logger)
				require.NoError(t, err)

				return s
			},
		},
	}
}

func TestSaveTopology(t *testing.T) {
	ctx := context.Background()

	for _, tc := range repositories() {
		t.Run(tc.name, func(t *testing.T) {
			repo := tc.new(t)
			defer repo.Close()

			err := repo.SaveTopology(ctx, testTopology("line1", "scan-1", scanTime))
			require.NoError(t, err)

			got, err := repo.TopologyBySystem(ctx, "line1")
			require.NoError(t, err)

			assert.Equal(t, "line1", got.System)
			assert.Equal(t, "scan-1", got.ScanID)
			assert.True(t, got.Complete)
			assert.True(t, scanTime.Equal(got.StartedAt))
			assert.Equal(t, []string{"0000a000", "00c0ffee"}, got.ModuleSerials())

			m := got.Modules["00c0ffee"]
			require.NotNil(t, m.Slot)
			assert.Equal(t, 1, *m.Slot)
			assert.Equal(t, "line1/bp/1", m.SystemPath)

			bp := got.Backplanes["0000a000"]
			require.NotNil(t, bp.SlotCount)
			assert.Equal(t, 10, *bp.SlotCount)
			assert.Len(t, bp.Slots, 1)

			require.Len(t, got.Segments, 1)
			assert.Equal(t, "00b00002", got.Segments[0].NodeSerials[5])
			assert.Equal(t, []int{1, 5}, got.Segments[0].DiscoveredNodeAddresses)
			assert.Equal(t, []model.Failure{{Path: "10.0.0.1/bp/4", Reason: "unreachable"}}, got.Failures)
		})
	}
}

func TestSaveTopologyReplaces(t *testing.T) {
	ctx := context.Background()

	for _, tc := range repositories() {
		t.Run(tc.name, func(t *testing.T) {
			repo := tc.new(t)
			defer repo.Close()

			require.NoError(t, repo.SaveTopology(ctx, testTopology("line1", "scan-1", scanTime)))

			later := testTopology("line1", "scan-2", scanTime.Add(time.Hour))
			delete(later.Modules, "00c0ffee")
			require.NoError(t, repo.SaveTopology(ctx, later))

			got, err := repo.TopologyBySystem(ctx, "line1")
			require.NoError(t, err)

			assert.Equal(t, "scan-2", got.ScanID)
			assert.Equal(t, []string{"0000a000"}, got.ModuleSerials())
		})
	}
}

func TestSaveTopologyInvalid(t *testing.T) {
	ctx := context.Background()

	for _, tc := range repositories() {
		t.Run(tc.name, func(t *testing.T) {
			repo := tc.new(t)
			defer repo.Close()

			err := repo.SaveTopology(ctx, nil)
			assert.ErrorIs(t, err, ErrStore)

			err = repo.SaveTopology(ctx, model.NewTopology(" ", "10.0.0.1"))
			assert.ErrorIs(t, err, ErrStore)
		})
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()

	for _, tc := range repositories() {
		t.Run(tc.name, func(t *testing.T) {
			repo := tc.new(t)
			defer repo.Close()

			_, err := repo.TopologyBySystem(ctx, "line1")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = repo.ModuleBySerial(ctx, "00c0ffee")
			assert.ErrorIs(t, err, ErrNotFound)

			systems, err := repo.Systems(ctx)
			require.NoError(t, err)
			assert.Empty(t, systems)
		})
	}
}

func TestModuleBySerial(t *testing.T) {
	ctx := context.Background()

	for _, tc := range repositories() {
		t.Run(tc.name, func(t *testing.T) {
			repo := tc.new(t)
			defer repo.Close()

			require.NoError(t, repo.SaveTopology(ctx, testTopology("line2", "scan-b", scanTime.Add(time.Hour))))
			require.NoError(t, repo.SaveTopology(ctx, testTopology("line1", "scan-a", scanTime)))

			// the module moved to line2 after it was seen on line1
			got, err := repo.ModuleBySerial(ctx, "00c0ffee")
			require.NoError(t, err)

			assert.Equal(t, "line2", got.System)
			assert.Equal(t, "scan-b", got.ScanID)
			assert.True(t, scanTime.Add(time.Hour).Equal(got.SeenAt))
			assert.Equal(t, "1756-ENBT/A", got.Module.ProductName)
			assert.Equal(t, "line2/bp/1", got.Module.SystemPath)

			systems, err := repo.Systems(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"line1", "line2"}, systems)
		})
	}
}

func TestMemStoreKeepsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemStore()

	topology := testTopology("line1", "scan-1", scanTime)
	require.NoError(t, repo.SaveTopology(ctx, topology))

	*topology.Modules["00c0ffee"].Slot = 9
	topology.Segments[0].NodeSerials[5] = "changed"

	got, err := repo.TopologyBySystem(ctx, "line1")
	require.NoError(t, err)
	assert.Equal(t, 1, *got.Modules["00c0ffee"].Slot)
	assert.Equal(t, "00b00002", got.Segments[0].NodeSerials[5])

	*got.Modules["00c0ffee"].Slot = 7

	record, err := repo.ModuleBySerial(ctx, "00c0ffee")
	require.NoError(t, err)
	assert.Equal(t, 1, *record.Module.Slot)
}

func TestFileStoreHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, model.StoreKindJSON, logrus.New())
	require.NoError(t, err)

	now := scanTime
	s.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	require.NoError(t, s.SaveTopology(ctx, testTopology("line1", "scan-1", scanTime)))
	require.NoError(t, s.SaveTopology(ctx, testTopology("line1", "scan-2", scanTime)))
	require.NoError(t, s.SaveTopology(ctx, testTopology("line1-b", "scan-3", scanTime)))

	history, err := s.History("line1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "history", "line1-20231120T103001.000000000Z.json"),
		filepath.Join(dir, "history", "line1-20231120T103002.000000000Z.json"),
	}, history)

	_, err = os.Stat(filepath.Join(dir, "line1.json"))
	assert.NoError(t, err)

	// no temporary files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}

	assert.ElementsMatch(t, []string{"history", "line1.json", "line1-b.json"}, names)
}

func TestFileStoreEscapesSystemName(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, model.StoreKindYAML, logrus.New())
	require.NoError(t, err)

	require.NoError(t, s.SaveTopology(ctx, testTopology("plant 1/line 2", "scan-1", scanTime)))

	_, err = os.Stat(filepath.Join(dir, "plant%201%2Fline%202.yaml"))
	assert.NoError(t, err)

	got, err := s.TopologyBySystem(ctx, "plant 1/line 2")
	require.NoError(t, err)
	assert.Equal(t, "plant 1/line 2", got.System)

	systems, err := s.Systems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"plant 1/line 2"}, systems)
}

func TestNewRepository(t *testing.T) {
	logger := logrus.New()

	repo, err := NewRepository(model.StoreKindMemory, "", logger)
	require.NoError(t, err)
	assert.IsType(t, &MemStore{}, repo)

	repo, err = NewRepository(model.StoreKindYAML, t.TempDir(), logger)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, repo)

	repo, err = NewRepository(model.StoreKindSQLite, ":memory:", logger)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, repo)
	assert.NoError(t, repo.Close())

	// a directory gets the default database file
	dir := filepath.Join(t.TempDir(), "store")
	repo, err = NewRepository(model.StoreKindSQLite, dir, logger)
	require.NoError(t, err)
	assert.NoError(t, repo.Close())

	_, err = os.Stat(filepath.Join(dir, DefaultSQLiteFile))
	assert.NoError(t, err)

	_, err = NewRepository("csv", "", logger)
	assert.True(t, errors.Is(err, ErrStoreKind))

	_, err = NewRepository(model.StoreKindJSON, "", logger)
	assert.ErrorIs(t, err, ErrFileStore)
}

func TestFileStoreDistinctSystemNames(t *testing.T) {
	ctx := context.Background()

	s, err := NewFileStore(t.TempDir(), model.StoreKindJSON, logrus.New())
	require.NoError(t, err)

	names := []string{"line 1", "line_1", "line%201", "..", ".line1"}
	for i, name := range names {
		require.NoError(t, s.SaveTopology(ctx, testTopology(name, fmt.Sprintf("scan-%d", i), scanTime)))
	}

	for i, name := range names {
		got, err := s.TopologyBySystem(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, name, got.System)
		assert.Equal(t, fmt.Sprintf("scan-%d", i), got.ScanID)

		history, err := s.History(name)
		require.NoError(t, err)
		assert.Len(t, history, 1, name)
	}

	systems, err := s.Systems(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, names, systems)
}
