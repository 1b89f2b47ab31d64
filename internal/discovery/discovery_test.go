package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/metal-toolbox/logixinvent/internal/catalog"
	"github.com/metal-toolbox/logixinvent/internal/fixtures"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	entry     = "10.0.0.1"
	segmentA2 = entry + "/bp/2/cnet"
	segmentA3 = entry + "/bp/3/cnet"
	maxNode   = 9
)

var (
	enbtA = fixtures.EthernetBridge.WithSerial(0xa1)
	cnbA2 = fixtures.ControlNetBridge.WithSerial(0xa2)
	cnbA3 = fixtures.ControlNetBridge.WithSerial(0xa3)
	diB0  = fixtures.DigitalInput.WithSerial(0xb0b0)
	cnbB1 = fixtures.ControlNetBridge.WithSerial(0xb1)
	cnbB2 = fixtures.ControlNetBridge.WithSerial(0xb2)
)

// addModule declares a module of a chassis answering at path.
func addModule(n *fixtures.Network, path string, id fixtures.Identity, backplane uint32, slotCount, slot int) {
	n.Device(path).
		Answer(catalog.Who, fixtures.IdentityPayload(id)).
		Answer(catalog.BackplaneStatus, fixtures.BackplanePayload(backplane, uint16(slotCount), uint16(slot)))
}

// addChassis declares a chassis entered at path through the module in entrySlot.
func addChassis(n *fixtures.Network, path string, backplane uint32, slotCount, entrySlot int, slots map[int]fixtures.Identity) {
	for slot, id := range slots {
		slotPath := fmt.Sprintf("%s/bp/%d", path, slot)
		if slot == entrySlot {
			slotPath = path
		}

		addModule(n, slotPath, id, backplane, slotCount, slot)
	}
}

func newController(n *fixtures.Network, deep bool) *Controller {
	return New(n, logrus.New(), Options{DeepScan: deep, MaxNodeAddress: maxNode, System: "line1"})
}

// chassis A holds two uplinks, A2 and A3. Chassis B sits on both segments through B1 and B2,
// so each segment leads back to the chassis the other one was reached from.
func loopedNetwork() *fixtures.Network {
	n := fixtures.NewNetwork()

	addChassis(n, entry, 0xa0, 4, 0, map[int]fixtures.Identity{0: enbtA, 2: cnbA2, 3: cnbA3})

	addModule(n, segmentA2+"/1", cnbA2, 0xa0, 4, 2)
	addChassis(n, segmentA2+"/5", 0xb0, 3, 1, map[int]fixtures.Identity{0: diB0, 1: cnbB1, 2: cnbB2})

	addModule(n, segmentA3+"/7", cnbA3, 0xa0, 4, 3)
	addModule(n, segmentA3+"/3", cnbB2, 0xb0, 3, 2)

	return n
}

func TestDiscoverLoopTerminates(t *testing.T) {
	n := loopedNetwork()
	rec := &fixtures.Recorder{}

	result, err := newController(n, true).Discover(context.Background(), entry, rec)
	require.NoError(t, err)
	assert.NoError(t, result.Errors)

	// each backplane is scanned once
	assert.Equal(t, []string{"000000a0", "000000b0"}, rec.BackplaneSerials())
	assert.Equal(t, 2, result.Backplanes)
	assert.Equal(t, 2, result.Segments)
	assert.Len(t, rec.Segments, 2)
	assert.Equal(t, 1, rec.Completed)

	// chassis B is reached through its uplinks, neither segment is swept twice
	assert.Equal(t, 1, n.Count(segmentA2+"/5/bp/2", catalog.Who))
	assert.Equal(t, 0, n.Count(segmentA2+"/5/bp/1/cnet/0", catalog.Who))
	assert.Equal(t, 0, n.Count(segmentA2+"/5/bp/2/cnet/0", catalog.Who))
	assert.Equal(t, 0, n.OpenSessions())
	assert.NotEqual(t, result.ScanID.String(), "")
}

func TestDiscoverCollectsTopology(t *testing.T) {
	n := loopedNetwork()
	collector := sink.NewCollector("line1", entry)

	result, err := newController(n, true).Discover(context.Background(), entry, collector)
	require.NoError(t, err)

	topology, err := collector.Topology()
	require.NoError(t, err)

	assert.True(t, topology.Complete)
	assert.Equal(t, result.ScanID.String(), topology.ScanID)
	assert.Equal(t, []string{"000000a0", "000000b0"}, topology.BackplaneSerials())

	b1 := topology.Modules["000000b1"]
	require.NotNil(t, b1.Slot)
	assert.Equal(t, 1, *b1.Slot)
	assert.Equal(t, "000000b0", b1.BackplaneSerial)
	assert.Equal(t, "line1/bp/2/cnet/5/bp/1", b1.SystemPath)

	inB := topology.ModulesIn("000000b0")
	require.Len(t, inB, 3)
	assert.Equal(t, "0000b0b0", inB[0].Serial)
}

func TestDiscoverSingleNodeSegmentNotExpanded(t *testing.T) {
	n := fixtures.NewNetwork()
	addChassis(n, entry, 0xa0, 3, 0, map[int]fixtures.Identity{0: enbtA, 2: cnbA2})
	addChassis(n, segmentA2+"/5", 0xb0, 2, 1, map[int]fixtures.Identity{1: cnbB1})

	rec := &fixtures.Recorder{}

	result, err := newController(n, true).Discover(context.Background(), entry, rec)
	require.NoError(t, err)

	require.Len(t, rec.Segments, 1)
	assert.Equal(t, []int{5}, rec.Segments[0].DiscoveredNodeAddresses)
	assert.Equal(t, []string{"000000a0"}, rec.BackplaneSerials())
	assert.Equal(t, 1, result.Backplanes)
	assert.Equal(t, 0, n.Count(segmentA2+"/5", catalog.BackplaneStatus))
}

func TestDiscoverShallow(t *testing.T) {
	n := loopedNetwork()
	rec := &fixtures.Recorder{}

	result, err := newController(n, false).Discover(context.Background(), entry, rec)
	require.NoError(t, err)

	assert.Empty(t, rec.Segments)
	assert.Equal(t, []string{"000000a0"}, rec.BackplaneSerials())
	assert.Equal(t, 0, result.Segments)
}

func TestDiscoverBranchFailureIsolation(t *testing.T) {
	n := fixtures.NewNetwork()
	addChassis(n, entry, 0xa0, 4, 0, map[int]fixtures.Identity{0: enbtA, 2: cnbA2, 3: cnbA3})
	addModule(n, segmentA2+"/1", cnbA2, 0xa0, 4, 2)
	addChassis(n, segmentA2+"/5", 0xb0, 2, 1, map[int]fixtures.Identity{1: cnbB1})

	// a node answering its identity whose chassis cannot be reached
	n.Device(segmentA2+"/6").
		Answer(catalog.Who, fixtures.IdentityPayload(fixtures.ControlNetBridge.WithSerial(0xc1))).
		Decline(catalog.BackplaneStatus, &transport.ConnectError{Path: segmentA2 + "/6"})

	// the segment behind A3 is down
	for node := 0; node <= maxNode; node++ {
		n.Unreachable(fmt.Sprintf("%s/%d", segmentA3, node))
	}

	rec := &fixtures.Recorder{}

	result, err := newController(n, true).Discover(context.Background(), entry, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"000000a0", "000000b0"}, rec.BackplaneSerials())
	assert.Contains(t, rec.FailedPaths(), segmentA3)
	assert.Contains(t, rec.FailedPaths(), segmentA2+"/6")

	require.Error(t, result.Errors)
	assert.ErrorIs(t, result.Errors, ErrBranch)
	assert.ErrorIs(t, result.Errors, transport.ErrConnect)
	assert.Equal(t, 1, rec.Completed)
}

func TestDiscoverEntryUnreachable(t *testing.T) {
	n := fixtures.NewNetwork()
	n.Unreachable(entry)

	rec := &fixtures.Recorder{}

	result, err := newController(n, true).Discover(context.Background(), entry, rec)
	require.Error(t, err)
	assert.True(t, transport.IsConnectError(err))
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Backplanes)
	assert.Equal(t, []string{entry}, rec.FailedPaths())
	assert.Equal(t, 0, rec.Completed)
}

func TestDiscoverEntryPathRequired(t *testing.T) {
	_, err := newController(fixtures.NewNetwork(), true).Discover(context.Background(), "", &fixtures.Recorder{})
	assert.ErrorIs(t, err, ErrEntryPath)
}

func TestDiscoverWithRetries(t *testing.T) {
	retryDelayMin = time.Millisecond
	retryDelayMax = 2 * time.Millisecond

	t.Run("gives up on an unreachable entry", func(t *testing.T) {
		n := fixtures.NewNetwork()
		n.Unreachable(entry)

		rec := &fixtures.Recorder{}

		_, err := DiscoverWithRetries(context.Background(), newController(n, false), entry, rec, 2)
		assert.ErrorIs(t, err, ErrDiscover)
		assert.Len(t, rec.Failures, 2)
	})

	t.Run("succeeds on the first attempt", func(t *testing.T) {
		rec := &fixtures.Recorder{}

		result, err := DiscoverWithRetries(context.Background(), newController(loopedNetwork(), false), entry, rec, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Backplanes)
		assert.Equal(t, 1, rec.Completed)
	})
}

// flakyTransport fails the first opens of a path before handing over to the wrapped transport.
type flakyTransport struct {
	transport.Transport

	mu       sync.Mutex
	failures map[string]int
}

func (f *flakyTransport) Open(ctx context.Context, path string) (transport.Session, error) {
	f.mu.Lock()
	if f.failures[path] > 0 {
		f.failures[path]--
		f.mu.Unlock()

		return nil, &transport.ConnectError{Path: path}
	}
	f.mu.Unlock()

	return f.Transport.Open(ctx, path)
}

func TestDiscoverWithRetriesDropsFailedAttempt(t *testing.T) {
	retryDelayMin = time.Millisecond
	retryDelayMax = 2 * time.Millisecond

	flaky := &flakyTransport{Transport: loopedNetwork(), failures: map[string]int{entry: 1}}
	controller := New(flaky, logrus.New(), Options{MaxNodeAddress: maxNode, System: "line1"})

	collector := sink.NewCollector("line1", entry)

	result, err := DiscoverWithRetries(context.Background(), controller, entry, collector, 3)
	require.NoError(t, err)

	topology, err := collector.Topology()
	require.NoError(t, err)

	assert.True(t, topology.Complete)
	assert.Empty(t, topology.Failures)
	assert.Equal(t, result.ScanID.String(), topology.ScanID)
	assert.Contains(t, topology.Backplanes, "000000a0")
	assert.Equal(t, 0, flaky.failures[entry])
}

func TestStateMachineJSON(t *testing.T) {
	b, err := StateMachineJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), "expandUplinks")
}
