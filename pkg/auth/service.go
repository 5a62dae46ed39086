package auth

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jnarwell/trellis-sub000/pkg/errors"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Config holds signing material and token lifetimes.
type Config struct {
	Secret          string        `env:"AUTH_SECRET" validate:"required"`
	AccessTokenTTL  time.Duration `env:"AUTH_ACCESS_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `env:"AUTH_REFRESH_TTL" env-default:"720h"`
	Issuer          string        `env:"AUTH_ISSUER" env-default:"trellis"`
}

// Claims is the JWT payload for both token types.
type Claims struct {
	TenantID    string   `json:"tenant_id"`
	TokenType   string   `json:"token_type"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is the login and refresh response body.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// LoginInput is the login request body. The caller names the tenant and
// actor the tokens will carry; roles and permissions ride along as claims.
type LoginInput struct {
	TenantID    string   `json:"tenant_id" validate:"required"`
	ActorID     string   `json:"actor_id" validate:"required"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Service issues and validates HS256 token pairs. Refresh tokens are single
// use: each refresh revokes the presented token id and issues a new pair.
type Service struct {
	config Config
	store  TokenStore
	logger ectologger.Logger
	now    func() time.Time
}

// NewService creates an auth service.
func NewService(config Config, store TokenStore, logger ectologger.Logger) *Service {
	return &Service{
		config: config,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Login issues a fresh token pair for the named identity.
func (s *Service) Login(ctx context.Context, input LoginInput) (*TokenPair, error) {
	if input.TenantID == "" || input.ActorID == "" {
		return nil, errors.New(errors.CodeValidation, "tenant_id and actor_id are required")
	}
	return s.issuePair(ctx, identity{
		tenantID:    input.TenantID,
		actorID:     input.ActorID,
		roles:       input.Roles,
		permissions: input.Permissions,
	})
}

// Refresh rotates a refresh token into a new pair. A token that was already
// rotated or revoked is rejected.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.parse(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeRefresh {
		return nil, errors.New(errors.CodeUnauthorized, "not a refresh token")
	}

	live, err := s.store.Exists(ctx, claims.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to check refresh token")
	}
	if !live {
		return nil, errors.New(errors.CodeUnauthorized, "refresh token revoked")
	}

	if err := s.store.Revoke(ctx, claims.ID); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to revoke refresh token")
	}

	return s.issuePair(ctx, identity{
		tenantID:    claims.TenantID,
		actorID:     claims.Subject,
		roles:       claims.Roles,
		permissions: claims.Permissions,
	})
}

// ValidateAccessToken checks an access token and returns the identity it
// carries.
func (s *Service) ValidateAccessToken(token string) (tenantID, actorID string, err error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", "", err
	}
	if claims.TokenType != tokenTypeAccess {
		return "", "", errors.New(errors.CodeUnauthorized, "not an access token")
	}
	return claims.TenantID, claims.Subject, nil
}

// identity is the claim set a token pair is minted for.
type identity struct {
	tenantID    string
	actorID     string
	roles       []string
	permissions []string
}

func (s *Service) issuePair(ctx context.Context, id identity) (*TokenPair, error) {
	now := s.now().UTC()

	access, err := s.sign(id, tokenTypeAccess, uuid.New().String(), now, s.config.AccessTokenTTL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to sign access token")
	}

	refreshID := uuid.New().String()
	refresh, err := s.sign(id, tokenTypeRefresh, refreshID, now, s.config.RefreshTokenTTL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to sign refresh token")
	}
	if err := s.store.Save(ctx, refreshID, s.config.RefreshTokenTTL); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to save refresh token")
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenTTL.Seconds()),
	}, nil
}

func (s *Service) sign(id identity, tokenType, jti string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		TenantID:    id.tenantID,
		TokenType:   tokenType,
		Roles:       id.roles,
		Permissions: id.permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   id.actorID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
}

func (s *Service) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(errors.CodeUnauthorized, "unexpected signing method")
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !parsed.Valid {
		return nil, errors.New(errors.CodeUnauthorized, "invalid token")
	}
	if claims.TenantID == "" || claims.Subject == "" {
		return nil, errors.New(errors.CodeUnauthorized, "token missing identity claims")
	}
	return claims, nil
}
