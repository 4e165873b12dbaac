package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lsf_stream_frames_received_total",
		Help: "Total stream frames received by event type",
	}, []string{"event_type"})
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lsf_stream_reconnects_total",
		Help: "Total stream reconnection attempts",
	})
	KeepaliveTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lsf_stream_keepalive_timeouts_total",
		Help: "Total keepalive probe timeouts",
	})
	GatewayCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lsf_gateway_cache_hits_total",
		Help: "Gateway calls served from the entity store",
	}, []string{"endpoint"})
	GatewayCacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lsf_gateway_cache_misses_total",
		Help: "Gateway calls that went to the network",
	}, []string{"endpoint"})
	ClassifierCalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lsf_classifier_calls_total",
		Help: "Total classification calls",
	})
	ClassifierErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lsf_classifier_errors_total",
		Help: "Total failed classification calls",
	})
	NotificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lsf_notifications_sent_total",
		Help: "Total notifications delivered downstream",
	})
	NotificationsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lsf_notifications_skipped_total",
		Help: "Total events skipped because no intent matched",
	})
)

func init() {
	prometheus.MustRegister(
		FramesReceived, Reconnects, KeepaliveTimeouts,
		GatewayCacheHits, GatewayCacheMisses,
		ClassifierCalls, ClassifierErrors,
		NotificationsSent, NotificationsSkipped,
	)
}

// StartServer starts a metrics HTTP server on addr. A blank addr disables it.
func StartServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	go func() { _ = http.ListenAndServe(addr, mux) }()
}
