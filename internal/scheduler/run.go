package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obslogger "github.com/smallbiznis/loyalty/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// jobRun is one execution of a job. Its correlation id tags every log line
// and audit entry written during the run.
type jobRun struct {
	job       string
	batchSize int
	startedAt time.Time
	checked   int
	findings  int
	failures  int
}

type jobRunKey struct{}

func runFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (r *jobRun) addChecked(n int) {
	if r != nil && n > 0 {
		r.checked += n
	}
}

func (r *jobRun) addFinding() {
	if r != nil {
		r.findings++
	}
}

func (r *jobRun) fail() {
	if r != nil {
		r.failures++
	}
}

func (s *Scheduler) startRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	now := s.clock.Now()
	ctx, _ = correlation.Ensure(ctx, now)
	run := &jobRun{job: job, batchSize: batchSize, startedAt: now}
	ctx = context.WithValue(ctx, jobRunKey{}, run)

	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", job),
		zap.Int("batch_size", batchSize),
	)
	return ctx, run
}

func (s *Scheduler) finishRun(ctx context.Context, run *jobRun, err error) {
	if err != nil && run.failures == 0 {
		run.fail()
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("accounts_checked", run.checked),
		zap.Int("findings", run.findings),
	}
	if run.failures > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", append(fields, zap.Error(err))...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logBatchFailure(ctx context.Context, after snowflake.ID, err error) {
	runFromContext(ctx).fail()
	cursor := ""
	if after != 0 {
		cursor = after.String()
	}
	s.logger(ctx).Error("scheduler.ledger_audit.batch_failed",
		zap.String("job", JobLedgerAudit),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.String("after_account_id", cursor),
		zap.Error(err),
	)
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}
