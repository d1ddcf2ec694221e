// Package metrics provides Prometheus metrics for the dialer processes.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Dialer
	Claims          *prometheus.CounterVec
	CallInitiations *prometheus.CounterVec
	DialDuration    prometheus.Histogram

	// Outcomes
	OutcomesProcessed  *prometheus.CounterVec
	StateConflicts     prometheus.Counter
	SideEffectFailures *prometheus.CounterVec

	// Reconciler
	Reconciled *prometheus.CounterVec
}

// New registers the collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "outbound_dialer"
	}
	f := promauto.With(reg)

	return &Metrics{
		Claims: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hopper_claims_total",
				Help:      "Claim attempts against the hopper by result",
			},
			[]string{"result"},
		),
		CallInitiations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_initiations_total",
				Help:      "Outbound call initiations by carrier and result",
			},
			[]string{"carrier", "result"},
		),
		DialDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dial_duration_seconds",
				Help:      "Time spent processing one hopper entry",
				Buckets:   prometheus.DefBuckets,
			},
		),
		OutcomesProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_outcomes_processed_total",
				Help:      "Processed call outcomes by resulting contact status",
			},
			[]string{"status"},
		),
		StateConflicts: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contact_state_conflicts_total",
				Help:      "Versioned contact state writes that lost a race",
			},
		),
		SideEffectFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "side_effect_failures_total",
				Help:      "Failed best-effort side effects by kind",
			},
			[]string{"kind"},
		),
		Reconciled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hopper_reconciled_total",
				Help:      "Hopper entries touched by the reconciler by action",
			},
			[]string{"action"},
		),
	}
}

// StartServer serves /metrics for gatherer until ctx is cancelled.
func StartServer(ctx context.Context, address string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *Metrics) IncClaim(result string) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(result).Inc()
}

func (m *Metrics) IncCallInitiation(carrier, result string) {
	if m == nil {
		return
	}
	m.CallInitiations.WithLabelValues(carrier, result).Inc()
}

func (m *Metrics) ObserveDial(d time.Duration) {
	if m == nil {
		return
	}
	m.DialDuration.Observe(d.Seconds())
}

func (m *Metrics) IncOutcome(status string) {
	if m == nil {
		return
	}
	m.OutcomesProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) IncStateConflict() {
	if m == nil {
		return
	}
	m.StateConflicts.Inc()
}

func (m *Metrics) IncSideEffectFailure(kind string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncReconciled(action string) {
	if m == nil {
		return
	}
	m.Reconciled.WithLabelValues(action).Inc()
}
