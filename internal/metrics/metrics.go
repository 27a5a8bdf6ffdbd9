package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the monitor's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	CyclesTotal       prometheus.Counter
	CycleDuration     prometheus.Histogram
	FetchTotal        *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	ObservationsCount *prometheus.GaugeVec
	TriggersTotal     *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	AlertsArmed       prometheus.Gauge
	AlertsTriggered   prometheus.Gauge
	HTTPRequestsTotal *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "stockalert_cycles_total",
			Help: "Total number of monitor cycles run",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockalert_cycle_duration_seconds",
			Help:    "Wall time of a monitor cycle",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		FetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockalert_fetch_total",
			Help: "Fetches by kind and outcome",
		}, []string{"kind", "status"}), // status: ok, error
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockalert_fetch_duration_seconds",
			Help:    "Fetch latency by kind",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		ObservationsCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockalert_observations",
			Help: "Observations currently held per kind",
		}, []string{"kind"}),
		TriggersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockalert_triggers_total",
			Help: "Alerts moved from armed to triggered",
		}, []string{"kind"}),
		DeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockalert_deliveries_total",
			Help: "Notification deliveries by outcome",
		}, []string{"status"}), // status: ok, error
		AlertsArmed: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockalert_alerts_armed",
			Help: "Alerts currently armed",
		}),
		AlertsTriggered: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockalert_alerts_triggered",
			Help: "Alerts currently triggered and awaiting re-arm",
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockalert_http_requests_total",
			Help: "Control API requests",
		}, []string{"method", "route", "status"}),
	}
}

// RecordCycle counts a finished cycle.
func (m *Metrics) RecordCycle(seconds float64) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(seconds)
}

// RecordFetch counts a fetch for kind.
func (m *Metrics) RecordFetch(kind string, seconds float64, count int, err error) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(kind).Observe(seconds)
	if err != nil {
		m.FetchTotal.WithLabelValues(kind, "error").Inc()
		return
	}
	m.FetchTotal.WithLabelValues(kind, "ok").Inc()
	m.ObservationsCount.WithLabelValues(kind).Set(float64(count))
}

// RecordTrigger counts an armed to triggered transition.
func (m *Metrics) RecordTrigger(kind string) {
	if m == nil {
		return
	}
	m.TriggersTotal.WithLabelValues(kind).Inc()
}

// RecordDelivery counts a notification delivery attempt.
func (m *Metrics) RecordDelivery(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DeliveriesTotal.WithLabelValues("error").Inc()
		return
	}
	m.DeliveriesTotal.WithLabelValues("ok").Inc()
}

// SetAlerts updates the alert gauges.
func (m *Metrics) SetAlerts(armed, triggered int) {
	if m == nil {
		return
	}
	m.AlertsArmed.Set(float64(armed))
	m.AlertsTriggered.Set(float64(triggered))
}

// RecordHTTP counts a control API request.
func (m *Metrics) RecordHTTP(method, route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
}
