package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	obscontext "github.com/smallbiznis/loyalty/internal/observability/context"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"github.com/smallbiznis/loyalty/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, rec auditdomain.Record) error {
	action := strings.TrimSpace(rec.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	entry := auditdomain.AuditLog{
		ID:            s.genID.Generate(),
		Action:        action,
		TargetType:    strings.TrimSpace(rec.TargetType),
		TargetID:      strings.TrimSpace(rec.TargetID),
		RequestID:     obscontext.RequestIDFromContext(ctx),
		CorrelationID: correlation.FromContext(ctx),
		CreatedAt:     s.clock.Now(),
	}
	entry.ActorType, entry.ActorID = actorOf(ctx, rec)
	if entry.TargetType == "" {
		entry.TargetType = "unknown"
	}
	if len(rec.Metadata) > 0 {
		meta := make(datatypes.JSONMap, len(rec.Metadata))
		for key, value := range rec.Metadata {
			if key != "" {
				meta[key] = value
			}
		}
		entry.Metadata = meta
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("target_id", entry.TargetID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func actorOf(ctx context.Context, rec auditdomain.Record) (auditdomain.ActorType, string) {
	actorType, actorID := rec.ActorType, strings.TrimSpace(rec.ActorID)
	if actorType == "" {
		ctxType, ctxID := obscontext.ActorFromContext(ctx)
		if ctxType == "" {
			return auditdomain.ActorTypeSystem, actorID
		}
		actorType = auditdomain.ActorType(ctxType)
		if actorID == "" {
			actorID = ctxID
		}
	}
	return actorType, actorID
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	page := req.Pagination.Normalize()

	filter := auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Limit:      page.PageSize,
	}
	if page.PageToken != "" {
		before, err := decodeBefore(page.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, err
		}
		filter.BeforeID = before
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	resp := auditdomain.ListAuditLogResponse{AuditLogs: make([]auditdomain.AuditLog, 0, len(items))}
	if info := pagination.BuildCursorPageInfo(items, int32(page.PageSize), encodeBefore); info != nil {
		resp.PageInfo = *info
	}
	for i, item := range items {
		if i == page.PageSize {
			break
		}
		resp.AuditLogs = append(resp.AuditLogs, *item)
	}
	return resp, nil
}

func encodeBefore(item *auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
	if err != nil {
		return ""
	}
	return token
}

func decodeBefore(token string) (snowflake.ID, error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return 0, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil || id <= 0 {
		return 0, auditdomain.ErrInvalidPageToken
	}
	return id, nil
}
