package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"catalog-api/internal/domain"
	"catalog-api/internal/service"
	"catalog-api/internal/transport/http/ez"
)

type AuthHandler struct {
	svc    *service.AuthService
	guards Guards
	log    *zap.Logger
}

func NewAuthHandler(svc *service.AuthService, g Guards, l *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, guards: g, log: l}
}

func (h *AuthHandler) Priority() int { return 10 }

func (h *AuthHandler) MountAPI(api *gin.RouterGroup) {
	public := ez.New(api, h.log)
	ez.RegisterAction(public, ez.Action[service.SignupInput, service.AuthResult]{
		Method: http.MethodPost,
		Path:   "/signup",
		Binder: ez.BindJSON,
		Status: http.StatusCreated,
		Handler: func(c *gin.Context, in *service.SignupInput) (service.AuthResult, error) {
			return h.svc.Signup(c.Request.Context(), *in)
		},
	})
	ez.RegisterAction(public, ez.Action[service.SigninInput, service.AuthResult]{
		Method: http.MethodPost,
		Path:   "/signin",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *service.SigninInput) (service.AuthResult, error) {
			return h.svc.Signin(c.Request.Context(), *in)
		},
	})

	// /me 必须挂在鉴权分组
	authed := ez.New(api.Group("", h.guards.User), h.log)
	ez.RegisterAction(authed, ez.Action[struct{}, domain.User]{
		Method: http.MethodGet,
		Path:   "/me",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (domain.User, error) {
			return h.svc.Me(c.Request.Context())
		},
	})
}
