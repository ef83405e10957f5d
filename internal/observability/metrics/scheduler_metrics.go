package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonIntegrity            = "integrity_violation"
	SchedulerJobReasonDB                   = "db"
	SchedulerJobReasonUnknown              = "unknown"
)

// ErrIntegrity is matched by errors.Is on job errors produced by the ledger auditor.
var ErrIntegrity = errors.New("integrity_violation")

// SchedulerMetrics captures background job health and ledger audit results.
type SchedulerMetrics struct {
	jobRuns            *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobTimeouts        *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
	jobSkipped         *prometheus.CounterVec
	accountsAudited    prometheus.Counter
	integrityFindings  *prometheus.CounterVec
	lastAuditTimestamp prometheus.Gauge
	runLoopLag         prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = NewSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// NewSchedulerMetrics registers the scheduler collectors on registerer.
func NewSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "loyalty"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loyalty_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "loyalty_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loyalty_scheduler_job_timeouts_total",
			Help:        "Scheduler job timeouts.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loyalty_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loyalty_scheduler_job_skipped_total",
			Help:        "Scheduler job runs skipped because another replica holds the job lock.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		accountsAudited: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "loyalty_ledger_accounts_audited_total",
			Help:        "Accounts whose cached balance was compared against the ledger fold.",
			ConstLabels: constLabels,
		}),
		integrityFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loyalty_ledger_integrity_findings_total",
			Help:        "Ledger integrity mismatches detected by the auditor. Never repaired automatically.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		lastAuditTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "loyalty_ledger_last_audit_timestamp_seconds",
			Help:        "Unix time of the last completed ledger audit pass.",
			ConstLabels: constLabels,
		}),
	}
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "loyalty_scheduler_run_loop_lag_seconds",
		Help:        "Delay between scheduled tick and actual run start.",
		Buckets:     []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		ConstLabels: constLabels,
	})
	m.runLoopLag = runLoopLag

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.jobSkipped,
		m.accountsAudited,
		m.integrityFindings,
		m.lastAuditTimestamp,
		runLoopLag,
	)
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

func (m *SchedulerMetrics) IncJobSkipped(job string) {
	if m == nil {
		return
	}
	m.jobSkipped.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) AddAccountsAudited(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.accountsAudited.Add(float64(count))
}

func (m *SchedulerMetrics) IncIntegrityFinding(kind string) {
	if m == nil {
		return
	}
	m.integrityFindings.WithLabelValues(kind).Inc()
}

func (m *SchedulerMetrics) SetLastAudit(at time.Time) {
	if m == nil {
		return
	}
	m.lastAuditTimestamp.Set(float64(at.Unix()))
}

func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	m.runLoopLag.Observe(max(duration, 0).Seconds())
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case errors.Is(err, ErrIntegrity):
		return SchedulerJobReasonIntegrity
	case hasPGCode(err, "55P03"):
		return SchedulerJobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return SchedulerJobReasonSerializationFailure
	case isDBError(err):
		return SchedulerJobReasonDB
	default:
		return SchedulerJobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
