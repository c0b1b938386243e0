// Package metrics exposes the channel's and its collaborators' activity
// as prometheus metrics: publish/receive outcomes, eviction pressure,
// watchdog restarts, and bridge throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every counter/gauge this repository exports. The zero
// value is not usable; construct with New.
type Metrics struct {
	Publishes      *prometheus.CounterVec
	Receives       *prometheus.CounterVec
	Evictions      prometheus.Counter
	MissedFrames   prometheus.Counter
	WatchdogResets prometheus.Counter
	BridgeBytes    *prometheus.CounterVec
}

// New registers every metric on the registerer it is given rather than
// prometheus's default registry, so multiple Metrics instances (e.g. in
// tests) never collide as long as each gets its own registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latchan",
			Name:      "publishes_total",
			Help:      "Number of Publish calls by channel and outcome.",
		}, []string{"channel", "status"}),
		Receives: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latchan",
			Name:      "receives_total",
			Help:      "Number of Receive calls by channel and outcome.",
		}, []string{"channel", "status"}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "latchan",
			Name:      "index_slot_evictions_total",
			Help:      "Number of index slots freed by the oldest-first eviction policy.",
		}),
		MissedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: "latchan",
			Name:      "missed_frames_total",
			Help:      "Number of Receive calls that reported a skipped sequence number.",
		}),
		WatchdogResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: "latchan",
			Subsystem: "watchdog",
			Name:      "restarts_total",
			Help:      "Number of times the watchdog restarted its supervised process.",
		}),
		BridgeBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latchan",
			Subsystem: "bridge",
			Name:      "bytes_total",
			Help:      "Bytes forwarded by the bridge daemon, by direction.",
		}, []string{"direction"}),
	}
}

// ListenAndServe serves /metrics on addr until ctx-driven shutdown is
// handled by the caller (it returns only on listener error).
func ListenAndServe(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
