package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	authdomain "github.com/smallbiznis/loyalty/internal/auth/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectLedger   = "ledger"
	ObjectAccount  = "account"
	ObjectCoupon   = "coupon"
	ObjectAuditLog = "audit_log"
)

const (
	ActionLedgerEarn   = "ledger.earn"
	ActionLedgerAdjust = "ledger.adjust"

	ActionAccountCreate = "account.create"
	ActionAccountView   = "account.view"
	ActionAccountVerify = "account.verify"

	ActionCouponConsume = "coupon.consume"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies persisted through the gorm adapter and seeds the
// built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, principal authdomain.Principal, object string, action string) error {
	subject := strings.TrimSpace(principal.Subject)
	if subject == "" || !principal.Role.Valid() {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	actor := fmt.Sprintf("%s:%s", principal.Role, subject)
	if err := s.ensureGrouping(actor, roleName(principal.Role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("actor", actor),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, principal, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping binds the actor to exactly the role its token carries.
func (s *ServiceImpl) ensureGrouping(actor string, role string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, actor)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == role {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(actor, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(actor, role)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, principal authdomain.Principal, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Record{
		ActorType:  auditdomain.ActorTypeFor(principal.Role),
		ActorID:    principal.Subject,
		Action:     "authorization.denied",
		TargetType: object,
		TargetID:   action,
		Metadata:   map[string]any{"role": string(principal.Role)},
	})
}

func roleName(role authdomain.Role) string {
	return fmt.Sprintf("role:%s", role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	service := roleName(authdomain.RoleService)
	admin := roleName(authdomain.RoleAdmin)

	policies := [][]string{
		// Order and commerce collaborators
		{service, ObjectLedger, ActionLedgerEarn},
		{service, ObjectAccount, ActionAccountCreate},
		{service, ObjectAccount, ActionAccountView},
		{service, ObjectCoupon, ActionCouponConsume},

		// Operators
		{admin, ObjectLedger, ActionLedgerEarn},
		{admin, ObjectLedger, ActionLedgerAdjust},
		{admin, ObjectAccount, ActionAccountCreate},
		{admin, ObjectAccount, ActionAccountView},
		{admin, ObjectAccount, ActionAccountVerify},
		{admin, ObjectCoupon, ActionCouponConsume},
		{admin, ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
