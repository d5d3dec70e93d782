package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LockAcquireTotal counts TryLock outcomes by result
	// (acquired, reentrant, contended, error).
	LockAcquireTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ward_lock_acquire_total",
		Help: "Total number of lock acquisition attempts by result",
	}, []string{"result"})
	// LockReleaseTotal counts final releases by result (released, mismatch, error).
	LockReleaseTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ward_lock_release_total",
		Help: "Total number of store-level lock releases by result",
	}, []string{"result"})
	// LeaseRenewTotal counts watchdog ticks by result (renewed, lost, error).
	LeaseRenewTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ward_lease_renew_total",
		Help: "Total number of lease renewals by result",
	}, []string{"result"})
	// LeasesActive reports the number of leases currently held by this process.
	LeasesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ward_leases_active",
		Help: "Current number of active leases",
	})
	// LockHoldSeconds observes how long leases were held before release.
	LockHoldSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ward_lock_hold_seconds",
		Help:    "Time between acquisition and release of a lease",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
	// RunTotal counts guarded executions by outcome
	// (success, exhausted, error, cancelled, panic).
	RunTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ward_run_total",
		Help: "Total number of guarded executions by outcome",
	}, []string{"outcome"})
	// RunAttempts observes the number of attempts a guarded execution needed.
	RunAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ward_run_attempts",
		Help:    "Attempts used per guarded execution",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50},
	})
	// SweepTotal counts singleton sweep ticks by outcome (ran, skipped, failed).
	SweepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ward_sweep_total",
		Help: "Total number of singleton sweep ticks by outcome",
	}, []string{"outcome"})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers the ward collectors on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		LockAcquireTotal,
		LockReleaseTotal,
		LeaseRenewTotal,
		LeasesActive,
		LockHoldSeconds,
		RunTotal,
		RunAttempts,
		SweepTotal,
	)
}
