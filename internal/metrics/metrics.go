package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricsEndpoint = "0.0.0.0:9090"
)

var (
	ProbeCounter *prometheus.CounterVec

	ModulesDiscovered    *prometheus.CounterVec
	BackplanesDiscovered *prometheus.CounterVec
	SegmentsScanned      *prometheus.CounterVec

	CommunicationErrors *prometheus.CounterVec

	DiscoveryCounter        *prometheus.CounterVec
	DiscoveryRunTimeSummary *prometheus.SummaryVec

	StoreQueryErrorCount *prometheus.CounterVec
)

func init() {
	ProbeCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logixinvent_probes_total",
			Help: "A counter metric to measure the total count of CIP requests sent, by template and outcome",
		},
		[]string{"template", "outcome"}, // outcome is ok, declined, unreachable, malformed
	)

	ModulesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logixinvent_modules_discovered",
			Help: "A counter metric to measure the total count of module records emitted",
		},
		[]string{"system", "state"},
	)

	BackplanesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logixinvent_backplanes_discovered",
			Help: "A counter metric to measure the total count of chassis discovered",
		},
		[]string{"system", "virtual"},
	)

	SegmentsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logixinvent_bus_segments_scanned",
			Help: "A counter metric to measure the total count of ControlNet segments swept",
		},
		[]string{"system"},
	)

	CommunicationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logixinvent_communication_errors",
			Help: "A counter metric to measure the total count of abandoned branches and undecodable records",
		},
		[]string{"system"},
	)

	DiscoveryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logixinvent_discoveries",
			Help: "A counter metric to measure the total count of discoveries run, successful and failed",
		},
		[]string{"system", "state"},
	)

	DiscoveryRunTimeSummary = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "logixinvent_discovery_duration_seconds",
			Help: "A summary metric to measure the total time spent in completing each discovery",
		},
		[]string{"system", "state"},
	)

	StoreQueryErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logixinvent_store_query_error_count",
			Help: "A counter metric to measure the total count of errors reading or writing the topology store.",
		},
		[]string{"storeKind"},
	)
}

// ListenAndServe exposes prometheus metrics as /metrics on the given address,
// MetricsEndpoint is used when address is empty.
func ListenAndServe(address string) {
	if address == "" {
		address = MetricsEndpoint
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              address,
			ReadHeaderTimeout: 2 * time.Second, // nolint:gomnd // time duration value is clear as is.
		}

		if err := server.ListenAndServe(); err != nil {
			log.Println(err)
		}
	}()
}
