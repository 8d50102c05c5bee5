package auth

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/loomwell/handover-backend/internal/logger"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
	"github.com/loomwell/handover-backend/internal/repos"
	"github.com/loomwell/handover-backend/internal/types"
)

// Claims is what a verified token asserts: who, in which tenant, with what
// role.
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

type Service interface {
	Login(ctx context.Context, tenantSlug, email, password string) (string, *types.User, error)
	Verify(tokenString string) (*Claims, error)
	IssueToken(user *types.User) (string, error)
}

type service struct {
	log       *logger.Logger
	tenants   repos.TenantRepo
	users     repos.UserRepo
	secret    []byte
	accessTTL time.Duration
}

func NewService(log *logger.Logger, tenants repos.TenantRepo, users repos.UserRepo) (Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if tenants == nil || users == nil {
		return nil, fmt.Errorf("repos required")
	}
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	if secret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET_KEY")
	}

	ttl := 24 * time.Hour
	if v := os.Getenv("JWT_ACCESS_TTL_HOURS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			ttl = time.Duration(parsed) * time.Hour
		}
	}

	return &service{
		log:       log.With("service", "AuthService"),
		tenants:   tenants,
		users:     users,
		secret:    []byte(secret),
		accessTTL: ttl,
	}, nil
}

func (s *service) Login(ctx context.Context, tenantSlug, email, password string) (string, *types.User, error) {
	tenant, err := s.tenants.GetBySlug(ctx, nil, strings.TrimSpace(tenantSlug))
	if err != nil {
		return "", nil, apperr.ErrUnauthorized
	}
	user, err := s.users.GetByEmail(ctx, nil, tenant.ID, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", nil, apperr.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, apperr.ErrUnauthorized
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, err
	}
	s.log.Info("User logged in", "tenant_id", tenant.ID.String(), "user_id", user.ID.String())
	return token, user, nil
}

func (s *service) IssueToken(user *types.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *service) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apperr.ErrUnauthorized
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.UserID == uuid.Nil || claims.TenantID == uuid.Nil {
		return nil, apperr.ErrUnauthorized
	}
	return claims, nil
}
