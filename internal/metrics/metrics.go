// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CallbackRequests counts platform callbacks by channel, phase (challenge|delivery) and result.
	CallbackRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wechatbot_callback_requests_total",
		Help: "Platform callback requests by channel, phase and result",
	}, []string{"channel", "phase", "result"})

	// DispatchJobs counts dispatcher jobs by kind (reply|filler|clear) and result.
	DispatchJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wechatbot_dispatch_jobs_total",
		Help: "Dispatcher jobs by kind and result",
	}, []string{"kind", "result"})

	// GenerationDuration tracks reply generation latency.
	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wechatbot_generation_duration_seconds",
		Help:    "Reply generation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
	})

	// OutboundSends counts outbound text sends by channel and result.
	OutboundSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wechatbot_outbound_sends_total",
		Help: "Outbound message sends by channel and result",
	}, []string{"channel", "result"})

	// TokenRefresh counts access token fetches by channel and result.
	TokenRefresh = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wechatbot_token_refresh_total",
		Help: "Access token refresh attempts by channel and result",
	}, []string{"channel", "result"})

	// Conversations is the number of conversations that have taken a lock.
	Conversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wechatbot_conversations",
		Help: "Conversations seen since start",
	})
)

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// TokenObserver returns a callback suitable for accesstoken.WithObserver.
func TokenObserver(channel string) func(error) {
	return func(err error) {
		TokenRefresh.WithLabelValues(channel, Result(err)).Inc()
	}
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
