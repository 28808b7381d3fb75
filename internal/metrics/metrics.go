// Package metrics exposes Prometheus counters for scoring and CRM sync.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "hh_screener"

type Metrics struct {
	registry *prometheus.Registry

	documentsTotal     *prometheus.CounterVec
	documentDuration   prometheus.Histogram
	probability        prometheus.Histogram
	extractionFailures prometheus.Counter

	crmRequestsTotal *prometheus.CounterVec
	crmRetriesTotal  *prometheus.CounterVec
	crmRecordsTotal  *prometheus.CounterVec

	aiReviewsTotal *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		documentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "documents_total",
				Help:      "Total scored documents by category.",
			},
			[]string{"category"},
		),
		documentDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "document_duration_seconds",
				Help:      "Time spent extracting and scoring one document.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		probability: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "probability",
				Help:      "Distribution of class 1 probabilities.",
				Buckets:   []float64{0.1, 0.19, 0.3, 0.4, 0.5, 0.6, 0.7, 0.81, 0.9, 1},
			},
		),
		extractionFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "extraction_failures_total",
				Help:      "Documents whose text could not be extracted.",
			},
		),
		crmRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "crm",
				Name:      "requests_total",
				Help:      "CRM HTTP requests by method and status code.",
			},
			[]string{"method", "status"},
		),
		crmRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "crm",
				Name:      "retries_total",
				Help:      "CRM request re-issues by reason.",
			},
			[]string{"reason"},
		),
		crmRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "crm",
				Name:      "records_total",
				Help:      "Synced batch records by outcome.",
			},
			[]string{"outcome"},
		),
		aiReviewsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ai",
				Name:      "reviews_total",
				Help:      "AI second opinions by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.documentsTotal,
		m.documentDuration,
		m.probability,
		m.extractionFailures,
		m.crmRequestsTotal,
		m.crmRetriesTotal,
		m.crmRecordsTotal,
		m.aiReviewsTotal,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDocument(category string, probability float64, d time.Duration) {
	if m == nil {
		return
	}
	m.documentsTotal.WithLabelValues(category).Inc()
	m.probability.Observe(probability)
	m.documentDuration.Observe(d.Seconds())
}

func (m *Metrics) ExtractionFailed() {
	if m == nil {
		return
	}
	m.extractionFailures.Inc()
}

// CRMRequest records one HTTP round trip. status 0 means a network error.
func (m *Metrics) CRMRequest(method string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.crmRequestsTotal.WithLabelValues(method, label).Inc()
}

func (m *Metrics) CRMRetry(reason string) {
	if m == nil {
		return
	}
	m.crmRetriesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) CRMRecord(outcome string) {
	if m == nil {
		return
	}
	m.crmRecordsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AIReview(result string) {
	if m == nil {
		return
	}
	m.aiReviewsTotal.WithLabelValues(result).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
