package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reactive path, labelled by terminal state (dropped, unconfigured, sent, failed).
	TriggerOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verifymail_trigger_outcomes_total",
		Help: "Total number of reactive trigger invocations by terminal state",
	}, []string{"state"})
	ManualRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verifymail_manual_requests_total",
		Help: "Total number of manual send requests by result",
	}, []string{"result"})
	ProviderSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verifymail_provider_sends_total",
		Help: "Total number of provider delivery attempts by result",
	}, []string{"result"})
	ProviderLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "verifymail_provider_send_duration_seconds",
		Help:    "Latency of provider delivery attempts",
		Buckets: prometheus.DefBuckets,
	})
	OutcomeWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "verifymail_outcome_write_failures_total",
		Help: "Total number of outcome write-backs that failed and were swallowed",
	})
	ConfigResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verifymail_config_resolutions_total",
		Help: "Delivery configuration resolutions by result (resolved, cached, error)",
	}, []string{"result"})
	TriggerEventsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verifymail_trigger_events_skipped_total",
		Help: "Change events ignored by a trigger source, by source and reason",
	}, []string{"source", "reason"})
)

func init() {
	prometheus.MustRegister(TriggerOutcomes)
	prometheus.MustRegister(ManualRequests)
	prometheus.MustRegister(ProviderSends)
	prometheus.MustRegister(ProviderLatency)
	prometheus.MustRegister(OutcomeWriteFailures)
	prometheus.MustRegister(ConfigResolutions)
	prometheus.MustRegister(TriggerEventsSkipped)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
