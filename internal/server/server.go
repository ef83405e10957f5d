package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/loyalty/internal/account"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/audit"
	auditdomain "github.com/smallbiznis/loyalty/internal/audit/domain"
	"github.com/smallbiznis/loyalty/internal/auth"
	authdomain "github.com/smallbiznis/loyalty/internal/auth/domain"
	"github.com/smallbiznis/loyalty/internal/authorization"
	"github.com/smallbiznis/loyalty/internal/cache"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/coupon"
	coupondomain "github.com/smallbiznis/loyalty/internal/coupon/domain"
	"github.com/smallbiznis/loyalty/internal/leaderboard"
	leaderboarddomain "github.com/smallbiznis/loyalty/internal/leaderboard/domain"
	"github.com/smallbiznis/loyalty/internal/ledger"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	"github.com/smallbiznis/loyalty/internal/lock"
	"github.com/smallbiznis/loyalty/internal/observability"
	obsmiddleware "github.com/smallbiznis/loyalty/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	obstracing "github.com/smallbiznis/loyalty/internal/observability/tracing"
	"github.com/smallbiznis/loyalty/internal/ratelimit"
	"github.com/smallbiznis/loyalty/internal/redemption"
	redemptiondomain "github.com/smallbiznis/loyalty/internal/redemption/domain"
	"github.com/smallbiznis/loyalty/internal/referral"
	referraldomain "github.com/smallbiznis/loyalty/internal/referral/domain"
	"github.com/smallbiznis/loyalty/internal/tier"
	tierdomain "github.com/smallbiznis/loyalty/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	ServiceModules,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// ServiceModules provides every domain service the routes depend on.
var ServiceModules = fx.Options(
	authorization.Module,
	audit.Module,
	auth.Module,
	cache.Module,
	lock.Module,
	ratelimit.Module,
	account.Module,
	ledger.Module,
	tier.Module,
	coupon.Module,
	redemption.Module,
	referral.Module,
	leaderboard.Module,
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSAllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key", "X-Request-Id"},
			ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	authsvc        authdomain.Service
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	accountSvc     accountdomain.Service
	ledgerSvc      ledgerdomain.Service
	tierSvc        tierdomain.Service
	couponSvc      coupondomain.Service
	redemptionSvc  redemptiondomain.Service
	referralSvc    referraldomain.Service
	leaderboardSvc leaderboarddomain.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	Authsvc        authdomain.Service
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	AccountSvc     accountdomain.Service
	LedgerSvc      ledgerdomain.Service
	TierSvc        tierdomain.Service
	CouponSvc      coupondomain.Service
	RedemptionSvc  redemptiondomain.Service
	ReferralSvc    referraldomain.Service
	LeaderboardSvc leaderboarddomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		authsvc:        p.Authsvc,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		accountSvc:     p.AccountSvc,
		ledgerSvc:      p.LedgerSvc,
		tierSvc:        p.TierSvc,
		couponSvc:      p.CouponSvc,
		redemptionSvc:  p.RedemptionSvc,
		referralSvc:    p.ReferralSvc,
		leaderboardSvc: p.LeaderboardSvc,
	}

	svc.registerLoyaltyRoutes()
	svc.registerInternalRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerLoyaltyRoutes() {
	api := s.engine.Group("/api/v1/loyalty", s.AuthRequired())

	api.GET("/balance", s.GetBalance)
	api.GET("/transactions", s.ListTransactions)
	api.GET("/tiers", s.ListTiers)
	api.GET("/leaderboard", s.GetLeaderboard)

	// -------- Redemption --------
	api.POST("/redeem", s.Redeem)
	api.GET("/redemptions", s.ListRedemptions)
	api.GET("/redemptions/:id", s.GetRedemption)

	// -------- Referral --------
	api.GET("/referral-code", s.GetReferralCode)
	api.POST("/referral/claim", s.ClaimReferral)
	api.GET("/referral/stats", s.GetReferralStats)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal/v1", s.AuthRequired())

	// -------- Accounts --------
	internal.POST("/accounts", s.authorizeAction(authorization.ObjectAccount, authorization.ActionAccountCreate), s.CreateAccount)
	internal.GET("/accounts/:id", s.authorizeAction(authorization.ObjectAccount, authorization.ActionAccountView), s.GetAccount)
	internal.GET("/accounts/:id/verify", s.authorizeAction(authorization.ObjectAccount, authorization.ActionAccountVerify), s.VerifyAccount)

	// -------- Ledger --------
	internal.POST("/ledger/earn", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerEarn), s.Earn)
	internal.POST("/ledger/adjust", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerAdjust), s.Adjust)

	// -------- Coupons --------
	internal.GET("/coupons/:code", s.authorizeAction(authorization.ObjectCoupon, authorization.ActionCouponConsume), s.GetCoupon)
	internal.POST("/coupons/:code/consume", s.authorizeAction(authorization.ObjectCoupon, authorization.ActionCouponConsume), s.ConsumeCoupon)

	// -------- Audit --------
	internal.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
