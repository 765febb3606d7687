package dashboard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the dashboard.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RenderDuration     *prometheus.HistogramVec
	ViewErrorsTotal    *prometheus.CounterVec
	ChartCacheHits     prometheus.Counter
	ChartCacheMisses   prometheus.Counter
	MergedRows         prometheus.Gauge
	AdvertisersDropped prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_requests_total",
			Help: "Total HTTP requests served, by route and status code.",
		},
		[]string{"route", "code"},
	)
	renderDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashboard_render_duration_seconds",
			Help:    "Time spent computing and drawing a view's chart.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"view", "format"},
	)
	viewErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_view_errors_total",
			Help: "Views that failed to compute or render, by error kind.",
		},
		[]string{"view", "kind"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_chart_cache_hits_total",
			Help: "Chart requests served from the cache.",
		},
	)
	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_chart_cache_misses_total",
			Help: "Chart requests that had to be rendered.",
		},
	)
	mergedRows := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashboard_merged_rows",
			Help: "Rows in the merged results/locations table.",
		},
	)
	dropped := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashboard_advertisers_dropped",
			Help: "Advertiser rows excluded because their spend is not numeric.",
		},
	)

	registry.MustRegister(requests, renderDuration, viewErrors, cacheHits, cacheMisses, mergedRows, dropped)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RenderDuration:     renderDuration,
		ViewErrorsTotal:    viewErrors,
		ChartCacheHits:     cacheHits,
		ChartCacheMisses:   cacheMisses,
		MergedRows:         mergedRows,
		AdvertisersDropped: dropped,
	}
}

func (m *Metrics) IncRequest(route, code string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, code).Inc()
}

func (m *Metrics) ObserveRender(view, format string, d time.Duration) {
	if m == nil {
		return
	}
	m.RenderDuration.WithLabelValues(view, format).Observe(d.Seconds())
}

func (m *Metrics) IncViewError(view, kind string) {
	if m == nil {
		return
	}
	m.ViewErrorsTotal.WithLabelValues(view, kind).Inc()
}

// IncCache records a chart cache lookup.
func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ChartCacheHits.Inc()
		return
	}
	m.ChartCacheMisses.Inc()
}

// SetDataset publishes the sizes of the loaded data.
func (m *Metrics) SetDataset(mergedRows, droppedAdvertisers int) {
	if m == nil {
		return
	}
	m.MergedRows.Set(float64(mergedRows))
	m.AdvertisersDropped.Set(float64(droppedAdvertisers))
}
