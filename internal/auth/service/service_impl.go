package service

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/loyalty/internal/auth/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const issuer = "loyalty"

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	secret []byte
	log    *zap.Logger
	clock  clock.Clock
}

func New(p Params) (domain.Service, error) {
	log := p.Log.Named("auth.service")
	secret := []byte(strings.TrimSpace(p.Cfg.AuthJWTSecret))
	if len(secret) == 0 {
		if p.Cfg.IsProduction() {
			return nil, domain.ErrMissingSecret
		}
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		log.Warn("AUTH_JWT_SECRET not set, using an ephemeral secret")
	}
	return NewWithSecret(secret, p.Clock, log), nil
}

func NewWithSecret(secret []byte, c clock.Clock, log *zap.Logger) *Service {
	return &Service{secret: secret, log: log, clock: c}
}

func (s *Service) Issue(subject string, role domain.Role, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", domain.ErrUnauthorized
	}
	if !role.Valid() {
		return "", domain.ErrInvalidRole
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := s.clock.Now()
	claims := &domain.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) Verify(raw string) (domain.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Principal{}, domain.ErrUnauthorized
	}

	claims := &domain.Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
	)
	if err != nil || !token.Valid {
		s.log.Debug("rejected token", zap.Error(err))
		return domain.Principal{}, domain.ErrUnauthorized
	}

	role := claims.Role
	if role == "" {
		role = domain.RoleCustomer
	}
	if !role.Valid() {
		return domain.Principal{}, domain.ErrUnauthorized
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.Principal{}, domain.ErrUnauthorized
	}

	principal := domain.Principal{Subject: subject, Role: role}
	if role == domain.RoleCustomer {
		id, err := snowflake.ParseString(subject)
		if err != nil || id <= 0 {
			return domain.Principal{}, domain.ErrUnauthorized
		}
		principal.AccountID = id
	}
	return principal, nil
}
