package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/account/domain"
	"gorm.io/gorm"
)

const accountColumns = `id, external_ref, referral_code, referral_claimed, balance, lifetime_earned, version, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO loyalty_accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.ExternalRef,
		account.ReferralCode,
		account.ReferralClaimed,
		account.Balance,
		account.LifetimeEarned,
		account.Version,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Account, error) {
	return r.findOne(ctx, db, `external_ref = ?`, ref)
}

func (r *repo) FindByReferralCode(ctx context.Context, db *gorm.DB, code string) (*domain.Account, error) {
	return r.findOne(ctx, db, `referral_code = ?`, code)
}

func (r *repo) MarkReferralClaimed(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE loyalty_accounts SET referral_claimed = ? WHERE id = ? AND referral_claimed = ?`,
		true, id, false,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM loyalty_accounts WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}
