package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"catalog-api/internal/domain"
	"catalog-api/internal/service"
	"catalog-api/internal/transport/http/ez"
)

// AdminHandler 管理端接口：用户角色与目录一致性巡检
type AdminHandler struct {
	users   *service.UserService
	catalog *service.CatalogService
	log     *zap.Logger
}

func NewAdminHandler(users *service.UserService, catalog *service.CatalogService, l *zap.Logger) *AdminHandler {
	return &AdminHandler{users: users, catalog: catalog, log: l}
}

type userListQuery struct {
	Offset int    `form:"offset,default=0"`
	Limit  int    `form:"limit,default=20"`
	Q      string `form:"q"` // 按 email/name 模糊搜
}

type setRoleBody struct {
	Role domain.Role `json:"role"`
}

type auditOut struct {
	Consistent bool                `json:"consistent"`
	Violations []service.Violation `json:"violations"`
}

// MountAdmin 分组已经要求 admin 身份
func (h *AdminHandler) MountAdmin(admin *gin.RouterGroup) {
	e := ez.New(admin, h.log)

	ez.RegisterAction(e, ez.Action[userListQuery, service.UserPage]{
		Method: http.MethodGet,
		Path:   "/users",
		Binder: ez.BindQuery,
		Handler: func(c *gin.Context, in *userListQuery) (service.UserPage, error) {
			return h.users.List(c.Request.Context(), in.Offset, in.Limit, in.Q)
		},
	})
	ez.RegisterAction(e, ez.Action[setRoleBody, domain.User]{
		Method: http.MethodPut,
		Path:   "/users/:id/role",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *setRoleBody) (domain.User, error) {
			return h.users.SetRole(c.Request.Context(), c.Param("id"), in.Role)
		},
	})

	ez.RegisterAction(e, ez.Action[struct{}, auditOut]{
		Method: http.MethodGet,
		Path:   "/integrity",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (auditOut, error) {
			vs, err := h.catalog.AuditIntegrity(c.Request.Context())
			if err != nil {
				return auditOut{}, err
			}
			return auditOut{Consistent: len(vs) == 0, Violations: vs}, nil
		},
	})
	ez.RegisterAction(e, ez.Action[struct{}, service.RepairReport]{
		Method: http.MethodPost,
		Path:   "/integrity/repair",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (service.RepairReport, error) {
			return h.catalog.RepairIntegrity(c.Request.Context())
		},
	})
}
