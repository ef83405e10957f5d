package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/ledger/domain"
	"github.com/smallbiznis/loyalty/internal/lock"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	obstracing "github.com/smallbiznis/loyalty/internal/observability/tracing"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMaxRetries = 5
	retryBaseDelay    = 5 * time.Millisecond
	retryMaxDelay     = 100 * time.Millisecond
	maxReferenceLen   = 128
	maxMemoLen        = 255
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       domain.Repository
	Locker     *lock.AccountLocker
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	locker     *lock.AccountLocker
	obsMetrics *obsmetrics.Metrics
	maxRetries int
}

func New(p Params) domain.Service {
	maxRetries := p.Cfg.Loyalty.LedgerMaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
		maxRetries: maxRetries,
	}
}

func (s *Service) Append(ctx context.Context, req domain.AppendRequest) (domain.Entry, error) {
	if err := validateAppend(req); err != nil {
		return domain.Entry{}, err
	}

	var entry domain.Entry
	err := s.Atomically(ctx, "append", []snowflake.ID{req.AccountID}, func(tx *gorm.DB) error {
		var err error
		entry, err = s.AppendTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.Entry{}, err
	}
	return entry, nil
}

func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, req domain.AppendRequest) (domain.Entry, error) {
	if err := validateAppend(req); err != nil {
		return domain.Entry{}, err
	}

	state, err := s.repo.FindAccountState(ctx, tx, req.AccountID)
	if err != nil {
		return domain.Entry{}, err
	}
	if state == nil {
		return domain.Entry{}, domain.ErrAccountNotFound
	}

	next := *state
	if req.Delta > 0 {
		if state.LifetimeEarned > math.MaxInt64-req.Delta {
			return domain.Entry{}, domain.ErrPointsOverflow
		}
		next.LifetimeEarned += req.Delta
	} else if state.Balance+req.Delta < 0 {
		return domain.Entry{}, domain.ErrInsufficientBalance
	}
	next.Balance += req.Delta
	next.Version++

	now := s.clock.Now()
	entry := domain.Entry{
		ID:            s.genID.Generate(),
		AccountID:     req.AccountID,
		Delta:         req.Delta,
		ReasonCode:    req.Reason,
		ReferenceType: req.Reference.Type,
		ReferenceID:   req.Reference.ID,
		Memo:          req.Memo,
		Sequence:      next.Version,
		BalanceAfter:  next.Balance,
		CreatedAt:     now,
	}

	if err := s.repo.InsertEntry(ctx, tx, &entry); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Entry{}, domain.ErrVersionConflict
		}
		return domain.Entry{}, err
	}

	affected, err := s.repo.CompareAndSwapState(ctx, tx, next, state.Version, now)
	if err != nil {
		return domain.Entry{}, err
	}
	if affected == 0 {
		return domain.Entry{}, domain.ErrVersionConflict
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(req.Reason), req.Delta)
	return entry, nil
}

func (s *Service) Atomically(ctx context.Context, operation string, accountIDs []snowflake.ID, fn domain.TxFunc) (err error) {
	ctx, span := obstracing.StartSpan(ctx, "ledger."+operation,
		attribute.String("loyalty.operation", operation),
		attribute.Int("loyalty.accounts", len(accountIDs)),
	)
	defer func() {
		if err != nil {
			span.RecordError(obstracing.SafeError(err))
		}
		span.End()
	}()
	return s.atomically(ctx, operation, accountIDs, fn)
}

func (s *Service) atomically(ctx context.Context, operation string, accountIDs []snowflake.ID, fn domain.TxFunc) error {
	for _, id := range accountIDs {
		if id == 0 {
			return domain.ErrInvalidAccount
		}
	}

	release, err := s.locker.Acquire(ctx, accountIDs...)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			s.obsMetrics.RecordLedgerConflict(ctx, operation)
			s.log.Warn("account lock wait exceeded",
				zap.String("operation", operation),
				zap.Int("accounts", len(accountIDs)),
			)
			return domain.ErrConflictRetryExhausted
		}
		return err
	}
	defer release()

	for attempt := 1; ; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(tx)
		})
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}

		s.obsMetrics.RecordLedgerConflict(ctx, operation)
		if attempt >= s.maxRetries {
			s.log.Warn("ledger conflict retries exhausted",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return domain.ErrConflictRetryExhausted
		}
		if err := sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
}

func (s *Service) Earn(ctx context.Context, req domain.EarnRequest) (domain.EarnResult, error) {
	if req.AccountID == 0 {
		return domain.EarnResult{}, domain.ErrInvalidAccount
	}
	if req.Points <= 0 {
		return domain.EarnResult{}, domain.ErrInvalidPoints
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" || len(orderID) > maxReferenceLen {
		return domain.EarnResult{}, domain.ErrInvalidOrderID
	}

	ref := domain.Reference{Type: domain.ReferenceOrder, ID: orderID}
	var result domain.EarnResult
	err := s.Atomically(ctx, "earn", []snowflake.ID{req.AccountID}, func(tx *gorm.DB) error {
		existing, err := s.repo.FindByReference(ctx, tx, req.AccountID, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			result = domain.EarnResult{Entry: *existing, Replayed: true}
			return nil
		}
		entry, err := s.AppendTx(ctx, tx, domain.AppendRequest{
			AccountID: req.AccountID,
			Delta:     req.Points,
			Reason:    domain.ReasonPurchase,
			Reference: ref,
		})
		if err != nil {
			return err
		}
		result = domain.EarnResult{Entry: entry}
		return nil
	})
	if err != nil {
		return domain.EarnResult{}, err
	}

	if result.Replayed {
		s.log.Info("earn replayed for order",
			zap.String("account_id", req.AccountID.String()),
			zap.String("order_id", orderID),
			zap.Int64("stored_points", result.Entry.Delta),
			zap.Int64("requested_points", req.Points),
		)
	}
	return result, nil
}

func (s *Service) Adjust(ctx context.Context, req domain.AdjustRequest) (domain.Entry, error) {
	if req.AccountID == 0 {
		return domain.Entry{}, domain.ErrInvalidAccount
	}
	if req.Delta == 0 {
		return domain.Entry{}, domain.ErrInvalidDelta
	}
	memo := strings.TrimSpace(req.Memo)
	if memo == "" || len(memo) > maxMemoLen {
		return domain.Entry{}, domain.ErrInvalidMemo
	}

	reason := domain.ReasonAdjustmentCredit
	if req.Delta < 0 {
		reason = domain.ReasonAdjustmentDebit
	}

	entry, err := s.Append(ctx, domain.AppendRequest{
		AccountID: req.AccountID,
		Delta:     req.Delta,
		Reason:    reason,
		Reference: domain.Reference{Type: domain.ReferenceAdjustment, ID: truncate(strings.TrimSpace(req.Actor), maxReferenceLen)},
		Memo:      memo,
	})
	if err != nil {
		return domain.Entry{}, err
	}

	s.log.Info("compensating entry appended",
		zap.String("account_id", req.AccountID.String()),
		zap.Int64("delta", req.Delta),
		zap.String("actor", req.Actor),
	)
	return entry, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID snowflake.ID) (int64, error) {
	totals, err := s.fold(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return totals.Balance, nil
}

func (s *Service) GetLifetimeEarned(ctx context.Context, accountID snowflake.ID) (int64, error) {
	totals, err := s.fold(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return totals.LifetimeEarned, nil
}

func (s *Service) Snapshot(ctx context.Context, accountID snowflake.ID) (domain.Snapshot, error) {
	row, err := s.loadAudit(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if finding := row.Check(); finding != nil {
		s.reportIntegrity(ctx, finding)
		return domain.Snapshot{}, finding
	}
	return domain.Snapshot{
		AccountID:      row.AccountID,
		Balance:        row.Balance,
		LifetimeEarned: row.LifetimeEarned,
		Version:        row.Version,
	}, nil
}

func (s *Service) ListEntries(ctx context.Context, req domain.ListEntriesRequest) (domain.ListEntriesResponse, error) {
	if req.AccountID == 0 {
		return domain.ListEntriesResponse{}, domain.ErrInvalidAccount
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: int(req.PageSize)}.Normalize()

	var before int64
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return domain.ListEntriesResponse{}, err
		}
		if cursor.Sequence <= 0 || cursor.ID != req.AccountID.String() {
			return domain.ListEntriesResponse{}, pagination.ErrInvalidPageToken
		}
		before = cursor.Sequence
	}

	items, err := s.repo.ListByAccount(ctx, s.db, req.AccountID, before, page.PageSize+1)
	if err != nil {
		return domain.ListEntriesResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(page.PageSize), func(entry *domain.Entry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:       entry.AccountID.String(),
			Sequence: entry.Sequence,
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > page.PageSize {
		items = items[:page.PageSize]
	}

	entries := make([]domain.Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	resp := domain.ListEntriesResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Verify(ctx context.Context, accountID snowflake.ID) error {
	row, err := s.loadAudit(ctx, accountID)
	if err != nil {
		return err
	}
	if finding := row.Check(); finding != nil {
		s.reportIntegrity(ctx, finding)
		return finding
	}
	return nil
}

func (s *Service) VerifyBatch(ctx context.Context, afterID snowflake.ID, limit int) (domain.VerifyBatchResult, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	rows, err := s.repo.ListAudit(ctx, s.db, afterID, limit)
	if err != nil {
		return domain.VerifyBatchResult{}, err
	}

	result := domain.VerifyBatchResult{LastID: afterID}
	for _, row := range rows {
		if row == nil {
			continue
		}
		result.Checked++
		result.LastID = row.AccountID
		if finding := row.Check(); finding != nil {
			s.reportIntegrity(ctx, finding)
			result.Findings = append(result.Findings, finding)
		}
	}
	return result, nil
}

func (s *Service) fold(ctx context.Context, accountID snowflake.ID) (domain.Totals, error) {
	if accountID == 0 {
		return domain.Totals{}, domain.ErrInvalidAccount
	}
	state, err := s.repo.FindAccountState(ctx, s.db, accountID)
	if err != nil {
		return domain.Totals{}, err
	}
	if state == nil {
		return domain.Totals{}, domain.ErrAccountNotFound
	}
	return s.repo.SumByAccount(ctx, s.db, accountID)
}

func (s *Service) loadAudit(ctx context.Context, accountID snowflake.ID) (*domain.AuditRow, error) {
	if accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	row, err := s.repo.LoadAudit(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrAccountNotFound
	}
	return row, nil
}

func (s *Service) reportIntegrity(ctx context.Context, finding *domain.IntegrityError) {
	s.obsMetrics.RecordIntegrityViolation(ctx, finding.Kind)
	s.log.Error("ledger integrity violation",
		zap.String("account_id", finding.AccountID.String()),
		zap.String("kind", finding.Kind),
		zap.Int64("cached", finding.Cached),
		zap.Int64("folded", finding.Folded),
	)
}

func validateAppend(req domain.AppendRequest) error {
	if req.AccountID == 0 {
		return domain.ErrInvalidAccount
	}
	if req.Delta == 0 {
		return domain.ErrInvalidDelta
	}
	if !req.Reason.Valid() {
		return domain.ErrInvalidReason
	}
	if req.Reason.Earns() != (req.Delta > 0) {
		return domain.ErrReasonSignMismatch
	}
	if len(req.Reference.ID) > maxReferenceLen || len(req.Memo) > maxMemoLen {
		return fmt.Errorf("%w: reference or memo too long", domain.ErrInvalidReason)
	}
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrVersionConflict) || db.IsRetryableTxErr(err)
}

func backoff(attempt int) time.Duration {
	d := retryBaseDelay << (attempt - 1)
	if d > retryMaxDelay || d <= 0 {
		d = retryMaxDelay
	}
	return d/2 + rand.N(d/2+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
