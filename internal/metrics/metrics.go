package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datafeed_upstream_requests_total",
		Help: "Market-data API requests, partitioned by endpoint and outcome",
	}, []string{"endpoint", "outcome"})
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datafeed_upstream_request_seconds",
		Help:    "Market-data API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "datafeed_subscriptions",
		Help: "Live bar subscriptions with an open socket",
	})
	SubscriptionOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datafeed_subscription_ops_total",
		Help: "Subscription operations",
	}, []string{"op"}) // subscribe/unsubscribe/drop
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datafeed_ticks_total",
		Help: "Live bars forwarded to subscribers",
	})
	FramesIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datafeed_frames_ignored_total",
		Help: "Inbound socket frames that did not produce a bar",
	}, []string{"why"})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "datafeed_stream_clients",
		Help: "Connected SSE clients",
	})
	StreamDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datafeed_stream_dropped_total",
		Help: "Bars dropped for slow SSE clients",
	})
)
