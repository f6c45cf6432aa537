package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"catalog-api/internal/core/auth"
	"catalog-api/internal/domain"
	"catalog-api/pkg/utils"
)

type TokenIssuer interface {
	Issue(uid string) (string, error)
	Parse(token string) (*auth.Claims, error)
}

// AttemptLimiter 按 email 限制连续登录失败
type AttemptLimiter interface {
	Allowed(ctx context.Context, key string) (bool, error)
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

type AuthServiceDeps struct {
	Users   domain.UserRepository
	Tokens  TokenIssuer
	Limiter AttemptLimiter // 可选
	Logger  *zap.Logger
}

type AuthService struct {
	users   domain.UserRepository
	tokens  TokenIssuer
	limiter AttemptLimiter
	log     *zap.Logger
}

func NewAuthService(deps AuthServiceDeps) (*AuthService, error) {
	if deps.Users == nil {
		return nil, errors.New("auth service: user repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("auth service: token issuer is required")
	}
	l := deps.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &AuthService{users: deps.Users, tokens: deps.Tokens, limiter: deps.Limiter, log: l}, nil
}

type SignupInput struct {
	Name            string `json:"name" validate:"omitempty,max=255"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type SigninInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResult struct {
	User  domain.User `json:"user"`
	Token string      `json:"accessToken"`
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput) (AuthResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateStruct(in); err != nil {
		return AuthResult{}, err
	}

	existing, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return AuthResult{}, domain.Internal("signup", err)
	}
	if existing != nil {
		return AuthResult{}, domain.Conflict("email already exists")
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return AuthResult{}, domain.Internal("hash password", err)
	}
	u := domain.User{
		ID:           utils.NewID(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         domain.RoleMember,
	}
	if err := s.users.Create(ctx, &u); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			return AuthResult{}, err
		}
		return AuthResult{}, domain.Internal("signup", err)
	}

	tok, err := s.tokens.Issue(u.ID)
	if err != nil {
		return AuthResult{}, domain.Internal("issue token", err)
	}
	s.log.Info("user signed up", zap.String("user_id", u.ID))
	return AuthResult{User: u, Token: tok}, nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnCompare 空跑一次 bcrypt，未知 email 与密码错误耗时一致
func burnCompare(pw string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = utils.HashPassword("catalog-api-timing-equaliser")
	})
	_ = utils.CheckPassword(pw, dummyHash)
}

// Signin email 不存在与密码错误返回同一个错误
func (s *AuthService) Signin(ctx context.Context, in SigninInput) (AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateStruct(in); err != nil {
		return AuthResult{}, err
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allowed(ctx, in.Email)
		if err != nil {
			s.log.Warn("signin limiter unavailable", zap.Error(err))
		} else if !ok {
			return AuthResult{}, domain.RateLimited("too many failed sign-in attempts, try again later")
		}
	}

	u, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return AuthResult{}, domain.Internal("signin", err)
	}
	if u == nil {
		burnCompare(in.Password)
		s.recordFailure(ctx, in.Email)
		return AuthResult{}, domain.ErrInvalidCredentials
	}
	if !utils.CheckPassword(in.Password, u.PasswordHash) {
		s.recordFailure(ctx, in.Email)
		return AuthResult{}, domain.ErrInvalidCredentials
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, in.Email); err != nil {
			s.log.Warn("reset signin attempts", zap.Error(err))
		}
	}
	tok, err := s.tokens.Issue(u.ID)
	if err != nil {
		return AuthResult{}, domain.Internal("issue token", err)
	}
	return AuthResult{User: *u, Token: tok}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, email string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Fail(ctx, email); err != nil {
		s.log.Warn("record signin failure", zap.Error(err))
	}
}

// VerifyToken 校验签名与过期，并确认 subject 对应的用户仍存在
func (s *AuthService) VerifyToken(ctx context.Context, token string) (domain.Identity, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	u, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return domain.Identity{}, domain.Internal("resolve token subject", err)
	}
	if u == nil {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	return domain.Identity{UserID: u.ID, Email: u.Email, Role: u.Role}, nil
}

func (s *AuthService) Me(ctx context.Context) (domain.User, error) {
	id, ok := domain.IdentityFrom(ctx)
	if !ok {
		return domain.User{}, domain.ErrMissingToken
	}
	u, err := s.users.FindByID(ctx, id.UserID)
	if err != nil {
		return domain.User{}, domain.Internal("load user", err)
	}
	if u == nil {
		return domain.User{}, domain.NotFound("user not found")
	}
	return *u, nil
}
