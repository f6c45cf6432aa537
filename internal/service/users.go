package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"catalog-api/internal/domain"
)

// UserService 管理端的用户操作
type UserService struct {
	users domain.UserRepository
	log   *zap.Logger
}

func NewUserService(users domain.UserRepository, l *zap.Logger) (*UserService, error) {
	if users == nil {
		return nil, errors.New("user service: repository is required")
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &UserService{users: users, log: l}, nil
}

type UserPage struct {
	Items  []domain.User `json:"items"`
	Total  int64         `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

func (s *UserService) List(ctx context.Context, offset, limit int, q string) (UserPage, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return UserPage{}, err
	}
	if offset < 0 {
		offset = 0
	}
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}
	items, total, err := s.users.List(ctx, offset, limit, strings.TrimSpace(q))
	if err != nil {
		return UserPage{}, domain.Internal("list users", err)
	}
	return UserPage{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}

// SetRole 修改角色；管理员不能给自己降级
func (s *UserService) SetRole(ctx context.Context, id string, role domain.Role) (domain.User, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.User{}, err
	}
	if !role.Valid() {
		return domain.User{}, domain.Validation(`"role" must be one of [admin, member]`)
	}
	caller, _ := domain.IdentityFrom(ctx)
	if caller.UserID == id && role != domain.RoleAdmin {
		return domain.User{}, domain.Conflict("admins cannot demote themselves")
	}
	if err := s.users.UpdateRole(ctx, id, role); err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return domain.User{}, err
		}
		return domain.User{}, domain.Internal("update role", err)
	}
	u, err := s.users.FindByID(ctx, id)
	if err != nil || u == nil {
		return domain.User{}, domain.Internal("reload user", err)
	}
	s.log.Info("user role changed", zap.String("user_id", id), zap.String("role", string(role)),
		zap.String("by", caller.UserID))
	return *u, nil
}

// PromoteBootstrapAdmins 把列表中已注册的 email 提升为 admin，返回提升人数
func (s *UserService) PromoteBootstrapAdmins(ctx context.Context, emails []string) (int, error) {
	n := 0
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		u, err := s.users.FindByEmail(ctx, e)
		if err != nil {
			return n, err
		}
		if u == nil {
			s.log.Warn("bootstrap admin has no account yet", zap.String("email", e))
			continue
		}
		if u.Role == domain.RoleAdmin {
			continue
		}
		if err := s.users.UpdateRole(ctx, u.ID, domain.RoleAdmin); err != nil {
			return n, err
		}
		s.log.Info("bootstrap admin promoted", zap.String("user_id", u.ID))
		n++
	}
	return n, nil
}
