// Package metrics exposes Prometheus counters for the filter framework.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all filter framework metrics.
// A nil *Registry is valid; every Record method is then a no-op.
type Registry struct {
	reg *prometheus.Registry

	// Manager operations
	PoolOperations   *prometheus.CounterVec
	FilterOperations *prometheus.CounterVec
	MoveRollbacks    prometheus.Counter

	// Persistence
	Commits      *prometheus.CounterVec
	TaintedMarks prometheus.Counter
	ScopeFlushes prometheus.Counter

	// References
	Resolutions     *prometheus.CounterVec
	Reconciliations *prometheus.CounterVec
}

// New creates a Registry backed by its own prometheus.Registry, so several
// independent systems (and tests) can coexist in one process.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{reg: reg}

	r.PoolOperations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rse_pool_operations_total",
		Help: "Filter pool operations by kind and result",
	}, []string{"op", "result"})

	r.FilterOperations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rse_filter_operations_total",
		Help: "Filter and filter string operations by kind and result",
	}, []string{"op", "result"})

	r.MoveRollbacks = factory.NewCounter(prometheus.CounterOpts{
		Name: "rse_pool_move_rollbacks_total",
		Help: "Pool moves rolled back after the delete phase failed",
	})

	r.Commits = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rse_profile_commits_total",
		Help: "Profile commits by profile and result",
	}, []string{"profile", "result"})

	r.TaintedMarks = factory.NewCounter(prometheus.CounterOpts{
		Name: "rse_profile_tainted_total",
		Help: "Times a profile was marked tainted",
	})

	r.ScopeFlushes = factory.NewCounter(prometheus.CounterOpts{
		Name: "rse_scope_flushes_total",
		Help: "Outermost scope exits that flushed dirty profiles",
	})

	r.Resolutions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rse_reference_resolutions_total",
		Help: "Pool reference resolutions by result (resolved, fallback, broken)",
	}, []string{"result"})

	r.Reconciliations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rse_reference_reconciliations_total",
		Help: "Reference list reconciliations by kind and action (kept, regenerated)",
	}, []string{"kind", "action"})

	return r
}

// Gatherer exposes the underlying registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RecordPoolOp counts a pool operation.
func (r *Registry) RecordPoolOp(op string, err error) {
	if r == nil {
		return
	}
	r.PoolOperations.WithLabelValues(op, result(err)).Inc()
}

// RecordFilterOp counts a filter operation.
func (r *Registry) RecordFilterOp(op string, err error) {
	if r == nil {
		return
	}
	r.FilterOperations.WithLabelValues(op, result(err)).Inc()
}

// RecordRollback counts a rolled back pool move.
func (r *Registry) RecordRollback() {
	if r == nil {
		return
	}
	r.MoveRollbacks.Inc()
}

// RecordCommit counts a profile commit.
func (r *Registry) RecordCommit(profile string, err error) {
	if r == nil {
		return
	}
	r.Commits.WithLabelValues(profile, result(err)).Inc()
}

// RecordTainted counts a profile taint.
func (r *Registry) RecordTainted() {
	if r == nil {
		return
	}
	r.TaintedMarks.Inc()
}

// RecordFlush counts an outermost scope flush.
func (r *Registry) RecordFlush() {
	if r == nil {
		return
	}
	r.ScopeFlushes.Inc()
}

// RecordResolution counts a reference resolution outcome.
func (r *Registry) RecordResolution(outcome string) {
	if r == nil {
		return
	}
	r.Resolutions.WithLabelValues(outcome).Inc()
}

// RecordReconcile counts a reconciliation pass.
func (r *Registry) RecordReconcile(kind string, regenerated bool) {
	if r == nil {
		return
	}
	action := "kept"
	if regenerated {
		action = "regenerated"
	}
	r.Reconciliations.WithLabelValues(kind, action).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
