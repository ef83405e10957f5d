package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	obscontext "github.com/smallbiznis/loyalty/internal/observability/context"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobLedgerAudit = "ledger_audit"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
	AuditSvc  auditdomain.Service `optional:"true"`
	Locker    *ratelimit.Locker   `optional:"true"`
	Clock     clock.Clock
	Config    Config                       `optional:"true"`
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	ledgerSvc ledgerdomain.Service
	auditSvc  auditdomain.Service
	locker    *ratelimit.Locker
	metrics   *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.LedgerSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		ledgerSvc: p.LedgerSvc,
		auditSvc:  p.AuditSvc,
		locker:    p.Locker,
		metrics:   metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run := s.startRun(ctx, name, batchSize)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	s.finishRun(ctx, run, err)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// soft timeout, the next tick resumes the walk
		s.metrics.IncJobTimeout(name)
		s.metrics.IncJobError(name, err)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.metrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobLedgerAudit, s.isJobEnabled(JobLedgerAudit), func(ctx context.Context) error {
			return s.withLeaderLock(ctx, JobLedgerAudit, func(ctx context.Context) error {
				return s.runJob(ctx, JobLedgerAudit, s.cfg.BatchSize, s.cfg.JobTimeout, s.LedgerAuditJob)
			})
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// withLeaderLock runs fn only on the replica holding the job lock. Without a
// redis client every replica runs the job.
func (s *Scheduler) withLeaderLock(ctx context.Context, job string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	key := fmt.Sprintf("loyalty:scheduler:%s", job)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LeaderLockTTL)
	if err != nil {
		s.metrics.IncJobError(job, err)
		return fmt.Errorf("%s: acquire leader lock: %w", job, err)
	}
	if !ok {
		s.metrics.IncJobSkipped(job)
		s.log.Debug("job held by another replica", zap.String("job", job))
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("failed to release leader lock", zap.String("job", job), zap.Error(err))
		}
	}()

	return fn(ctx)
}
