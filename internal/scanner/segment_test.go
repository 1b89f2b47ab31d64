package scanner

import (
	"context"
	"fmt"
	"testing"

	"github.com/metal-toolbox/logixinvent/internal/catalog"
	"github.com/metal-toolbox/logixinvent/internal/fixtures"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const segment = entry + "/bp/2/cnet"

func TestScanBusSegment(t *testing.T) {
	network := fixtures.NewNetwork()
	for node, serial := range map[int]uint32{1: 0x201, 5: 0x205, 99: 0x299} {
		network.Device(fmt.Sprintf("%s/%d", segment, node)).
			Answer(catalog.Who, fixtures.IdentityPayload(fixtures.ControlNetBridge.WithSerial(serial)))
	}

	network.Unreachable(segment + "/42")

	rec := &fixtures.Recorder{}
	got, err := newScanner(network).ScanBusSegment(context.Background(), segment, 99, rec)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 5, 99}, got.Segment.DiscoveredNodeAddresses)
	assert.Equal(t, map[int]string{1: "00000201", 5: "00000205", 99: "00000299"}, got.Segment.NodeSerials)
	assert.Equal(t, segment+"/5", got.NodePaths["00000205"])
	assert.Empty(t, got.Segment.UplinkSerial)

	assert.ErrorIs(t, got.Errs, transport.ErrConnect)
	assert.Equal(t, []string{segment + "/42"}, rec.FailedPaths())

	// every address is probed and reported as it is probed
	assert.Len(t, rec.BusNodes, 100)
	assert.Equal(t, 99, rec.BusNodes[99])
	require.Len(t, rec.Segments, 1)

	require.Len(t, rec.Modules, 3)
	require.NotNil(t, rec.Modules[1].BusNodeAddress)
	assert.Equal(t, 5, *rec.Modules[1].BusNodeAddress)
	assert.Equal(t, 0, network.OpenSessions())
}

func TestScanUplink(t *testing.T) {
	network := fixtures.NewNetwork()
	network.Device(segment+"/3").
		Answer(catalog.Who, fixtures.IdentityPayload(fixtures.ControlNetBridge.WithSerial(0x203)))

	uplink := Uplink{Serial: "00000102", Slot: 2, ModulePath: entry + "/bp/2", SegmentPath: segment}

	rec := &fixtures.Recorder{}
	got, err := newScanner(network).ScanUplink(context.Background(), uplink, -1, rec)
	require.NoError(t, err)

	assert.Equal(t, "00000102", got.Segment.UplinkSerial)
	assert.Equal(t, []int{3}, got.Segment.DiscoveredNodeAddresses)
	assert.Len(t, rec.BusNodes, DefaultMaxNodeAddress+1)
}

func TestScanBusSegmentUnreachable(t *testing.T) {
	network := fixtures.NewNetwork()
	for node := 0; node <= 3; node++ {
		network.Unreachable(fmt.Sprintf("%s/%d", segment, node))
	}

	rec := &fixtures.Recorder{}
	got, err := newScanner(network).ScanBusSegment(context.Background(), segment, 3, rec)
	assert.Nil(t, got)

	var connErr *transport.ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, segment, connErr.Path)
	assert.Empty(t, rec.Segments)
}

type cancelAt struct {
	fixtures.Recorder

	node   int
	cancel context.CancelFunc
}

func (c *cancelAt) OnCurrentBusNode(address int) {
	c.Recorder.OnCurrentBusNode(address)

	if address == c.node {
		c.cancel()
	}
}

func TestScanBusSegmentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &cancelAt{node: 10, cancel: cancel}

	got, err := newScanner(fixtures.NewNetwork()).ScanBusSegment(ctx, segment, 99, rec)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.BusNodes, 11)
	assert.Empty(t, rec.Failures)
}
