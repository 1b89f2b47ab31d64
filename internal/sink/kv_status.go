//nolint:gomnd //useless opinions
package sink

import (
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	StatusActive   = "active"
	StatusComplete = "complete"
)

var (
	DefaultStatusKVName = "logixinvent-status"
	defaultStatusKVTTL  = 10 * 24 * time.Hour

	invalidKeyChars = regexp.MustCompile(`[^-/_=.a-zA-Z0-9]+`)
)

// StatusValue is the scan status document written to the KV bucket.
type StatusValue struct {
	UpdatedAt      time.Time `json:"updated"`
	System         string    `json:"system"`
	ScanID         string    `json:"scan_id"`
	State          string    `json:"state"`
	Modules        int       `json:"modules"`
	Backplanes     int       `json:"backplanes"`
	Segments       int       `json:"segments"`
	Failures       int       `json:"failures"`
	CurrentBusNode *int      `json:"current_bus_node,omitempty"`
	LastProgress   string    `json:"last_progress,omitempty"`
}

// panic if we cannot serialize to JSON
func (v *StatusValue) MustBytes() []byte {
	byt, err := json.Marshal(v)
	if err != nil {
		panic("unable to serialize status value: " + err.Error())
	}

	return byt
}

// StatusKV publishes the running status of one discovery to a NATS JetStream KV bucket.
type StatusKV struct {
	mu      sync.Mutex
	kv      nats.KeyValue
	log     *logrus.Logger
	key     string
	lastRev uint64
	status  StatusValue
}

// BindStatusBucket returns the status bucket, creating it when it does not exist.
func BindStatusBucket(js nats.JetStreamContext, bucket string, replicas int) (nats.KeyValue, error) {
	if bucket == "" {
		bucket = DefaultStatusKVName
	}

	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}

	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, errors.Wrap(err, "bind status bucket")
	}

	if replicas == 0 {
		replicas = 1
	}

	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucket,
		Description: "logixinvent scan status tracking",
		TTL:         defaultStatusKVTTL,
		Replicas:    replicas,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create status bucket")
	}

	return kv, nil
}

// StatusKey returns the KV key the status of a system is written under.
func StatusKey(system string) string {
	return invalidKeyChars.ReplaceAllString(system, "_")
}

// NewStatusKV returns a sink publishing the status of the system scan to kv.
func NewStatusKV(kv nats.KeyValue, system, scanID string, log *logrus.Logger) *StatusKV {
	return &StatusKV{
		kv:  kv,
		log: log,
		key: StatusKey(system),
		status: StatusValue{
			System: system,
			ScanID: scanID,
			State:  StatusActive,
		},
	}
}

func (s *StatusKV) publish() {
	s.status.UpdatedAt = time.Now()
	payload := s.status.MustBytes()

	var err error
	var rev uint64
	if s.lastRev == 0 {
		rev, err = s.kv.Put(s.key, payload)
	} else {
		rev, err = s.kv.Update(s.key, payload, s.lastRev)
	}

	if err == nil {
		s.lastRev = rev
		return
	}

	s.log.WithError(err).WithFields(logrus.Fields{
		"system":   s.status.System,
		"last_rev": s.lastRev,
	}).Warn("unable to write scan status")
}

func (s *StatusKV) update(fn func(v *StatusValue)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.status)
	s.publish()
}

// SetScanID starts the status over for a new scan of the system.
func (s *StatusKV) SetScanID(id string) {
	s.update(func(v *StatusValue) {
		*v = StatusValue{
			System: v.System,
			ScanID: id,
			State:  StatusActive,
		}
	})
}

func (s *StatusKV) OnModule(module model.Module) {
	if module.IsSentinel() {
		return
	}

	s.update(func(v *StatusValue) { v.Modules++ })
}

func (s *StatusKV) OnBackplane(model.BackplaneRecord) {
	s.update(func(v *StatusValue) { v.Backplanes++ })
}

func (s *StatusKV) OnBusSegment(model.BusSegment) {
	s.update(func(v *StatusValue) {
		v.Segments++
		v.CurrentBusNode = nil
	})
}

func (s *StatusKV) OnProgress(text string) {
	s.update(func(v *StatusValue) { v.LastProgress = text })
}

func (s *StatusKV) OnCurrentBusNode(address int) {
	s.update(func(v *StatusValue) { v.CurrentBusNode = model.IntPtr(address) })
}

func (s *StatusKV) OnCommunicationError(string, string) {
	s.update(func(v *StatusValue) { v.Failures++ })
}

func (s *StatusKV) OnScanComplete() {
	s.update(func(v *StatusValue) {
		v.State = StatusComplete
		v.CurrentBusNode = nil
	})
}
