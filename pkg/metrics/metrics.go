package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feed
var (
	FeedPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_feed_polls_total",
			Help: "Feed polls by result",
		},
		[]string{"result"},
	)

	FeedVehiclesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_feed_vehicles_fetched_total",
			Help: "Vehicles parsed from the feed after filtering",
		},
	)

	FeedFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_feed_fetch_duration_seconds",
			Help:    "Feed fetch duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// Broker
var (
	BrokerPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broker_publishes_total",
			Help: "Batch publishes by result (ok/dropped)",
		},
		[]string{"result"},
	)

	BrokerRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broker_records_total",
			Help: "Consumed broker records by result (decoded/invalid)",
		},
		[]string{"result"},
	)

	// BrokerConsumerState is 0=disconnected, 1=connecting, 2=polling, 3=committing
	BrokerConsumerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_broker_consumer_state",
			Help: "Current broker consumer state (0=disconnected, 1=connecting, 2=polling, 3=committing)",
		},
	)

	BrokerReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_broker_reconnects_total",
			Help: "Broker consumer sessions that ended in an error",
		},
	)

	StoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_store_errors_total",
			Help: "Vehicle positions that failed to persist",
		},
	)
)

// Hub
var (
	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_hub_subscribers",
			Help: "Currently registered live subscribers",
		},
	)

	HubLaggedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_hub_lagged_total",
			Help: "Subscribers disconnected for falling behind",
		},
	)

	HubEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_hub_events_total",
			Help: "Frames fanned out by the hub by kind (event/relay)",
		},
		[]string{"kind"},
	)
)
