package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/loyalty/internal/auth/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeAccount ActorType = "account"
	ActorTypeService ActorType = "service"
	ActorTypeAdmin   ActorType = "admin"
	ActorTypeSystem  ActorType = "system"
)

// ActorTypeFor maps a caller role onto the actor recorded in the log.
func ActorTypeFor(role authdomain.Role) ActorType {
	switch role {
	case authdomain.RoleService:
		return ActorTypeService
	case authdomain.RoleAdmin:
		return ActorTypeAdmin
	default:
		return ActorTypeAccount
	}
}

// AuditLog is an append-only record of a privileged or security relevant
// action: operator adjustments, coupon consumption, denied requests and
// ledger integrity findings.
type AuditLog struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType     ActorType         `gorm:"type:text;not null" json:"actor_type"`
	ActorID       string            `gorm:"type:text;not null;default:''" json:"actor_id,omitempty"`
	Action        string            `gorm:"type:text;not null;index" json:"action"`
	TargetType    string            `gorm:"type:text;not null;index:idx_loyalty_audit_logs_target,priority:1" json:"target_type"`
	TargetID      string            `gorm:"type:text;not null;default:'';index:idx_loyalty_audit_logs_target,priority:2" json:"target_id,omitempty"`
	RequestID     string            `gorm:"type:text;not null;default:''" json:"request_id,omitempty"`
	CorrelationID string            `gorm:"type:text;not null;default:''" json:"correlation_id,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "loyalty_audit_logs" }

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	BeforeID   snowflake.ID
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}
