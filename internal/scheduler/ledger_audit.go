package scheduler

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"go.uber.org/zap"
)

// LedgerAuditJob walks every account in id order and compares the cached
// balance, lifetime total and version with the ledger fold. Findings are
// logged, counted and recorded in the audit log. Nothing is repaired.
func (s *Scheduler) LedgerAuditJob(ctx context.Context) error {
	run := runFromContext(ctx)

	var (
		after    snowflake.ID
		findings int
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := s.ledgerSvc.VerifyBatch(ctx, after, s.cfg.BatchSize)
		if err != nil {
			s.logBatchFailure(ctx, after, err)
			return err
		}

		run.addChecked(result.Checked)
		s.metrics.AddAccountsAudited(result.Checked)
		for _, finding := range result.Findings {
			findings++
			run.addFinding()
			s.metrics.IncIntegrityFinding(finding.Kind)
			s.recordFinding(ctx, finding)
		}

		if result.Checked < s.cfg.BatchSize || result.LastID == after {
			break
		}
		after = result.LastID
	}

	s.metrics.SetLastAudit(s.clock.Now())
	if findings > 0 {
		return fmt.Errorf("%d accounts disagree with the ledger: %w", findings, obsmetrics.ErrIntegrity)
	}
	return nil
}

func (s *Scheduler) recordFinding(ctx context.Context, finding *ledgerdomain.IntegrityError) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Record{
		ActorType:  auditdomain.ActorTypeSystem,
		ActorID:    "scheduler",
		Action:     "ledger.integrity_violation",
		TargetType: "account",
		TargetID:   finding.AccountID.String(),
		Metadata: map[string]any{
			"kind":   finding.Kind,
			"cached": finding.Cached,
			"folded": finding.Folded,
		},
	})
	if err != nil {
		s.logger(ctx).Warn("failed to record integrity finding", zap.String("account_id", finding.AccountID.String()), zap.Error(err))
	}
}
