package sink

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/nats-io/nats-server/v2/server"
	srvtest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startJetStreamServer(t *testing.T) *server.Server {
	t.Helper()
	opts := srvtest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	return srvtest.RunServer(&opts)
}

func jetStreamContext(t *testing.T, s *server.Server) (*nats.Conn, nats.JetStreamContext) {
	t.Helper()
	nc, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("connect => %v", err)
	}
	js, err := nc.JetStream(nats.MaxWait(10 * time.Second))
	if err != nil {
		t.Fatalf("JetStream => %v", err)
	}
	return nc, js
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

func TestStatusKey(t *testing.T) {
	assert.Equal(t, "line_1.press", StatusKey("line 1.press"))
	assert.Equal(t, "cell-7", StatusKey("cell-7"))
}

func TestStatusKV(t *testing.T) {
	srv := startJetStreamServer(t)
	defer shutdownJetStream(t, srv)
	nc, js := jetStreamContext(t, srv)
	defer nc.Close()

	kv, err := BindStatusBucket(js, "", 1)
	require.NoError(t, err, "create bucket")

	// binding again returns the existing bucket
	_, err = BindStatusBucket(js, DefaultStatusKVName, 1)
	require.NoError(t, err, "bind bucket")

	s := NewStatusKV(kv, "line 1", "scan-1", logrus.New())

	s.OnBackplane(model.BackplaneRecord{Serial: "00000100"})
	s.OnModule(model.Module{Serial: "00c0ffee", ProductName: "1756-L61"})
	s.OnModule(model.EmptySlot("10.0.0.1/bp/1", "00000100", 1))
	s.OnCurrentBusNode(42)

	entry, err := kv.Get(StatusKey("line 1"))
	require.NoError(t, err)

	got := StatusValue{}
	require.NoError(t, json.Unmarshal(entry.Value(), &got))
	assert.Equal(t, "line 1", got.System)
	assert.Equal(t, "scan-1", got.ScanID)
	assert.Equal(t, StatusActive, got.State)
	assert.Equal(t, 1, got.Modules)
	assert.Equal(t, 1, got.Backplanes)
	require.NotNil(t, got.CurrentBusNode)
	assert.Equal(t, 42, *got.CurrentBusNode)

	s.OnCommunicationError("10.0.0.1/bp/2", "unreachable")
	s.OnScanComplete()

	entry, err = kv.Get(StatusKey("line 1"))
	require.NoError(t, err)

	got = StatusValue{}
	require.NoError(t, json.Unmarshal(entry.Value(), &got))
	assert.Equal(t, StatusComplete, got.State)
	assert.Equal(t, 1, got.Failures)
	assert.Nil(t, got.CurrentBusNode)

	// a new scan starts the counters over
	s.SetScanID("scan-2")

	entry, err = kv.Get(StatusKey("line 1"))
	require.NoError(t, err)

	got = StatusValue{}
	require.NoError(t, json.Unmarshal(entry.Value(), &got))
	assert.Equal(t, "scan-2", got.ScanID)
	assert.Equal(t, StatusActive, got.State)
	assert.Equal(t, 0, got.Modules)
	assert.Equal(t, "line 1", got.System)
}
