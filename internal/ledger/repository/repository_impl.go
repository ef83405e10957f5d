package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/ledger/domain"
	"gorm.io/gorm"
)

const entryColumns = `id, account_id, delta, reason_code, reference_type, reference_id, memo, sequence, balance_after, created_at`

const auditSelect = `SELECT a.id AS account_id, a.balance, a.lifetime_earned, a.version,
		COALESCE(t.folded_balance, 0) AS folded_balance,
		COALESCE(t.folded_lifetime, 0) AS folded_lifetime,
		COALESCE(t.entry_count, 0) AS entry_count,
		COALESCE(t.max_sequence, 0) AS max_sequence
	FROM loyalty_accounts a
	LEFT JOIN (
		SELECT account_id,
			SUM(delta) AS folded_balance,
			SUM(CASE WHEN delta > 0 THEN delta ELSE 0 END) AS folded_lifetime,
			COUNT(*) AS entry_count,
			MAX(sequence) AS max_sequence
		FROM loyalty_ledger_entries
		GROUP BY account_id
	) t ON t.account_id = a.id`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindAccountState(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.AccountState, error) {
	var state domain.AccountState
	err := db.WithContext(ctx).Raw(
		`SELECT id, balance, lifetime_earned, version FROM loyalty_accounts WHERE id = ?`,
		accountID,
	).Scan(&state).Error
	if err != nil {
		return nil, err
	}
	if state.ID == 0 {
		return nil, nil
	}
	return &state, nil
}

func (r *repo) CompareAndSwapState(ctx context.Context, db *gorm.DB, next domain.AccountState, expectedVersion int64, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE loyalty_accounts
		 SET balance = ?, lifetime_earned = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		next.Balance,
		next.LifetimeEarned,
		next.Version,
		now,
		next.ID,
		expectedVersion,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO loyalty_ledger_entries (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AccountID,
		entry.Delta,
		entry.ReasonCode,
		entry.ReferenceType,
		entry.ReferenceID,
		entry.Memo,
		entry.Sequence,
		entry.BalanceAfter,
		entry.CreatedAt,
	).Error
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, accountID snowflake.ID, ref domain.Reference) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM loyalty_ledger_entries
		 WHERE account_id = ? AND reference_type = ? AND reference_id = ?
		 ORDER BY sequence ASC LIMIT 1`,
		accountID,
		ref.Type,
		ref.ID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) SumByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (domain.Totals, error) {
	var totals domain.Totals
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(delta), 0) AS balance,
			COALESCE(SUM(CASE WHEN delta > 0 THEN delta ELSE 0 END), 0) AS lifetime_earned,
			COUNT(*) AS entry_count,
			COALESCE(MAX(sequence), 0) AS max_sequence
		 FROM loyalty_ledger_entries WHERE account_id = ?`,
		accountID,
	).Scan(&totals).Error
	return totals, err
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, beforeSequence int64, limit int) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("account_id = ?", accountID)
	if beforeSequence > 0 {
		stmt = stmt.Where("sequence < ?", beforeSequence)
	}
	err := stmt.
		Order("sequence desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) LoadAudit(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.AuditRow, error) {
	var row domain.AuditRow
	err := db.WithContext(ctx).Raw(auditSelect+` WHERE a.id = ?`, accountID).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.AccountID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) ListAudit(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]*domain.AuditRow, error) {
	var rows []*domain.AuditRow
	err := db.WithContext(ctx).Raw(
		auditSelect+` WHERE a.id > ? ORDER BY a.id ASC LIMIT ?`,
		afterID,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
