package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/metal-toolbox/logixinvent/internal/catalog"
	"github.com/metal-toolbox/logixinvent/internal/discovery"
	"github.com/metal-toolbox/logixinvent/internal/fixtures"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/metal-toolbox/logixinvent/internal/store"
	"github.com/nats-io/nats-server/v2/server"
	srvtest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addChassis declares a chassis of slotCount slots entered at path through slot 0.
func addChassis(n *fixtures.Network, path string, backplane uint32, slotCount int, slots map[int]fixtures.Identity) {
	for slot, id := range slots {
		slotPath := fmt.Sprintf("%s/bp/%d", path, slot)
		if slot == 0 {
			slotPath = path
		}

		n.Device(slotPath).
			Answer(catalog.Who, fixtures.IdentityPayload(id)).
			Answer(catalog.BackplaneStatus, fixtures.BackplanePayload(backplane, uint16(slotCount), uint16(slot)))
	}
}

func plantNetwork() *fixtures.Network {
	n := fixtures.NewNetwork()

	addChassis(n, "10.0.0.1", 0xa0, 3, map[int]fixtures.Identity{
		0: fixtures.EthernetBridge.WithSerial(0xa1),
		1: fixtures.Controller.WithSerial(0xa2),
	})

	addChassis(n, "10.0.0.2", 0xb0, 2, map[int]fixtures.Identity{
		0: fixtures.EthernetBridge.WithSerial(0xb1),
		1: fixtures.DigitalInput.WithSerial(0xb2),
	})

	n.Device("10.0.0.1/bp/1").Answer(catalog.ProgramName, fixtures.ProgramNamePayload("Line1"))
	n.Unreachable("10.0.0.9")

	return n
}

func newWorker(n *fixtures.Network, repo store.Repository, opts ...Option) *Worker {
	options := discovery.Options{MaxNodeAddress: 3}
	return New(n, repo, options, logrus.New(), append([]Option{WithRetries(1)}, opts...)...)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	n := plantNetwork()
	repo := store.NewMemStore()

	systems := []model.System{
		{Name: "line1", EntryPath: "10.0.0.1"},
		{Name: "line2", EntryPath: "10.0.0.2"},
		{Name: "line9", EntryPath: "10.0.0.9"},
	}

	outcomes, err := newWorker(n, repo, WithConcurrency(2)).Run(ctx, systems)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSystemScan)

	require.Len(t, outcomes, 3)

	assert.Equal(t, "line1", outcomes[0].System)
	assert.NoError(t, outcomes[0].Err)
	assert.True(t, outcomes[0].Saved)
	assert.Equal(t, 1, outcomes[0].Backplanes)
	assert.NotEmpty(t, outcomes[0].ScanID)

	assert.NoError(t, outcomes[1].Err)
	assert.True(t, outcomes[1].Saved)

	assert.Error(t, outcomes[2].Err)
	assert.False(t, outcomes[2].Saved)

	stored, err := repo.Systems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"line1", "line2"}, stored)

	line1, err := repo.TopologyBySystem(ctx, "line1")
	require.NoError(t, err)
	assert.True(t, line1.Complete)
	assert.Equal(t, outcomes[0].ScanID, line1.ScanID)
	assert.Equal(t, []string{"000000a0"}, line1.BackplaneSerials())
	assert.Equal(t, "Line1", line1.Modules["000000a2"].ProgramName)
	assert.Equal(t, "line1/bp/1", line1.Modules["000000a2"].SystemPath)

	record, err := repo.ModuleBySerial(ctx, "000000b2")
	require.NoError(t, err)
	assert.Equal(t, "line2", record.System)

	assert.Equal(t, 0, n.OpenSessions())
}

func TestRunValidatesSystems(t *testing.T) {
	ctx := context.Background()
	w := newWorker(fixtures.NewNetwork(), store.NewMemStore())

	testcases := []struct {
		name    string
		systems []model.System
	}{
		{"none", nil},
		{"no name", []model.System{{EntryPath: "10.0.0.1"}}},
		{"no entry path", []model.System{{Name: "line1"}}},
		{"duplicate", []model.System{{Name: "line1", EntryPath: "10.0.0.1"}, {Name: "line1", EntryPath: "10.0.0.2"}}},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := w.Run(ctx, tc.systems)
			assert.ErrorIs(t, err, ErrSystemConfig)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	systems := []model.System{
		{Name: "line1", EntryPath: "10.0.0.1"},
		{Name: "line2", EntryPath: "10.0.0.2"},
	}

	outcomes, err := newWorker(plantNetwork(), store.NewMemStore()).Run(ctx, systems)
	require.Error(t, err)

	for _, o := range outcomes {
		assert.Error(t, o.Err)
		assert.False(t, o.Saved)
	}
}

func TestRunSystemDeepScanOverride(t *testing.T) {
	ctx := context.Background()
	n := plantNetwork()

	addChassis(n, "10.0.0.3", 0xc0, 2, map[int]fixtures.Identity{
		0: fixtures.EthernetBridge.WithSerial(0xc1),
		1: fixtures.ControlNetBridge.WithSerial(0xc2),
	})
	n.Device("10.0.0.3/bp/1").Answer(catalog.BusNodeAddress, fixtures.BusNodePayload(1, 0))

	deep := true
	systems := []model.System{{Name: "line3", EntryPath: "10.0.0.3", DeepScan: &deep}}

	_, err := newWorker(n, store.NewMemStore()).Run(ctx, systems)
	require.NoError(t, err)

	// the uplink segment is swept only because the system asked for a deep scan
	assert.Equal(t, 1, n.Count("10.0.0.3/bp/1/cnet/2", catalog.Who))
}

func startJetStreamServer(t *testing.T) *server.Server {
	t.Helper()
	opts := srvtest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	return srvtest.RunServer(&opts)
}

func shutdownJetStream(t *testing.T, s *server.Server) {
	t.Helper()
	var sd string
	if config := s.JetStreamConfig(); config != nil {
		sd = config.StoreDir
	}
	s.Shutdown()
	if sd != "" {
		if err := os.RemoveAll(sd); err != nil {
			t.Fatalf("Unable to remove storage %q: %v", sd, err)
		}
	}
	s.WaitForShutdown()
}

func TestRunPublishesStatus(t *testing.T) {
	srv := startJetStreamServer(t)
	defer shutdownJetStream(t, srv)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	js, err := nc.JetStream(nats.MaxWait(10 * time.Second))
	require.NoError(t, err)

	kv, err := sink.BindStatusBucket(js, "", 1)
	require.NoError(t, err)

	systems := []model.System{{Name: "line1", EntryPath: "10.0.0.1"}}

	outcomes, err := newWorker(plantNetwork(), store.NewMemStore(), WithStatusKV(kv)).Run(context.Background(), systems)
	require.NoError(t, err)

	entry, err := kv.Get(sink.StatusKey("line1"))
	require.NoError(t, err)

	got := sink.StatusValue{}
	require.NoError(t, json.Unmarshal(entry.Value(), &got))

	assert.Equal(t, sink.StatusComplete, got.State)
	assert.Equal(t, outcomes[0].ScanID, got.ScanID)
	assert.Equal(t, 1, got.Backplanes)
}
