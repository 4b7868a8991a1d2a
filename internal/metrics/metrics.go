// Package metrics: Prometheus-метрики матчера, сборки индекса и обработки вложений.
package metrics

import (
	"net/http"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "product_matcher"

var indexStates = []string{"unloaded", "loading", "ready", "reloading"}

type Metrics struct {
	QueryDuration     *prometheus.HistogramVec
	AttachmentsTotal  *prometheus.CounterVec
	BuildDuration     *prometheus.HistogramVec
	BuildImages       *prometheus.CounterVec
	SyncProductsTotal *prometheus.CounterVec
	SyncRunsTotal     *prometheus.CounterVec
	IndexState        *prometheus.GaugeVec
	IndexEntries      prometheus.Gauge
	gatherer          prometheus.Gatherer
}

// New регистрирует коллекторы в reg. nil, глобальный реестр по умолчанию.
func New(reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Duration of matcher queries in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"outcome"},
		),
		AttachmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attachments_total",
				Help:      "Ticket attachments by processing outcome",
			},
			[]string{"outcome"},
		),
		BuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_build_duration_seconds",
				Help:      "Duration of index builds in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"result"},
		),
		BuildImages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_build_images_total",
				Help:      "Catalog images handled by index builds",
			},
			[]string{"kind"},
		),
		SyncProductsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_sync_products_total",
				Help:      "Products written by catalog syncs",
			},
			[]string{"source", "change"},
		),
		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_sync_runs_total",
				Help:      "Catalog sync runs by result",
			},
			[]string{"result"},
		),
		IndexState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "index_state",
				Help:      "1 for the current matcher index state",
			},
			[]string{"state"},
		),
		IndexEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "index_entries",
				Help:      "Image vectors in the active index",
			},
		),
		gatherer: gatherer,
	}
}

// Handler отдаёт метрики реестра для /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveQuery(seconds float64, outcome string) {
	m.QueryDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) IncAttachment(outcome string) {
	m.AttachmentsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBuild(seconds float64, report *domain.BuildReport, err error) {
	result := "published"
	switch {
	case err != nil:
		result = "error"
	case report != nil && report.NoOp:
		result = "noop"
	}
	m.BuildDuration.WithLabelValues(result).Observe(seconds)

	if report == nil {
		return
	}
	m.BuildImages.WithLabelValues("embedded").Add(float64(report.Embedded))
	m.BuildImages.WithLabelValues("reused").Add(float64(report.Reused))
	m.BuildImages.WithLabelValues("failed").Add(float64(report.Failed))
}

func (m *Metrics) ObserveSync(report *domain.SyncReport, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case report != nil && len(report.Errors) > 0:
		result = "partial"
	}
	m.SyncRunsTotal.WithLabelValues(result).Inc()

	if report == nil {
		return
	}
	m.SyncProductsTotal.WithLabelValues(report.Source, "inserted").Add(float64(report.Inserted))
	m.SyncProductsTotal.WithLabelValues(report.Source, "updated").Add(float64(report.Updated))
	m.SyncProductsTotal.WithLabelValues(report.Source, "skipped").Add(float64(report.Skipped))
}

func (m *Metrics) SetIndexState(state string, entries int) {
	for _, s := range indexStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.IndexState.WithLabelValues(s).Set(v)
	}
	m.IndexEntries.Set(float64(entries))
}
