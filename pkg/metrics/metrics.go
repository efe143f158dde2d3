package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Delivery metrics
	AdRequestsTotal   *prometheus.CounterVec
	AuctionCandidates prometheus.Histogram

	// Tracking and billing metrics
	TrackingEventsTotal   *prometheus.CounterVec
	AdvertiserChargeTotal prometheus.Counter
	PublisherCreditTotal  prometheus.Counter

	// Event fan-out metrics
	EventPublishTotal    *prometheus.CounterVec
	EventPublishDuration *prometheus.HistogramVec

	// Reporting metrics
	ReportQueriesTotal *prometheus.CounterVec
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors on reg; tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		AdRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ad_requests_total",
				Help: "Total number of placement requests by outcome",
			},
			[]string{"outcome"},
		),

		AuctionCandidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auction_candidates",
				Help:    "Number of eligible ads entering an auction",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
			},
		),

		TrackingEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracking_events_total",
				Help: "Total number of recorded tracking events by outcome",
			},
			[]string{"event_type", "outcome"},
		),

		AdvertiserChargeTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "advertiser_charge_total",
				Help: "Sum of settled advertiser charges",
			},
		),

		PublisherCreditTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "publisher_credit_total",
				Help: "Sum of publisher revenue share credited",
			},
		),

		EventPublishTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_publish_total",
				Help: "Total number of tracking events published downstream",
			},
			[]string{"sink", "status"},
		),

		EventPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "event_publish_duration_seconds",
				Help:    "Downstream publish duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		ReportQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_queries_total",
				Help: "Total number of ad report queries",
			},
			[]string{"report"},
		),
	}
}

// HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// outcome is served, no_inventory or error
func (m *Metrics) RecordAdRequest(outcome string) {
	m.AdRequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAuction(candidates int) {
	m.AuctionCandidates.Observe(float64(candidates))
}

func (m *Metrics) RecordTrackingEvent(eventType, outcome string) {
	m.TrackingEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// Settled click amounts
func (m *Metrics) RecordSettlement(charge, publisherAmount decimal.Decimal) {
	m.AdvertiserChargeTotal.Add(charge.InexactFloat64())
	if publisherAmount.IsPositive() {
		m.PublisherCreditTotal.Add(publisherAmount.InexactFloat64())
	}
}

// Downstream publish metrics
func (m *Metrics) RecordEventPublish(sink, status string, duration time.Duration) {
	m.EventPublishTotal.WithLabelValues(sink, status).Inc()
	m.EventPublishDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

func (m *Metrics) RecordReportQuery(report string) {
	m.ReportQueriesTotal.WithLabelValues(report).Inc()
}

// HTTP requests in flight counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// HTTP requests in flight counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
