package service

import (
	"context"
	"strings"

	"catalog-api/internal/domain"
)

type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (domain.Identity, error)
}

// Gate 从 Bearer 凭证解析身份并校验角色，无状态
type Gate struct {
	verifier TokenVerifier
}

func NewGate(v TokenVerifier) *Gate { return &Gate{verifier: v} }

// Authenticate 解析 Authorization 头（"Bearer <token>"）
func (g *Gate) Authenticate(ctx context.Context, authorization string) (domain.Identity, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return domain.Identity{}, domain.ErrMissingToken
	}
	return g.verifier.VerifyToken(ctx, token)
}

// Authorize 校验 Authenticate 写入 ctx 的身份
func (g *Gate) Authorize(ctx context.Context, role domain.Role) error {
	return RequireRole(ctx, role)
}

func RequireRole(ctx context.Context, role domain.Role) error {
	id, ok := domain.IdentityFrom(ctx)
	if !ok {
		return domain.ErrMissingToken
	}
	if id.Role != role {
		if role == domain.RoleAdmin {
			return domain.ErrAdminRequired
		}
		return domain.Forbidden("role " + string(role) + " required")
	}
	return nil
}

func bearerToken(h string) (string, bool) {
	h = strings.TrimSpace(h)
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
