package handler

import (
	"github.com/gin-gonic/gin"

	"catalog-api/internal/domain"
	"catalog-api/internal/service"
	mdw "catalog-api/internal/transport/http/middleware"
)

// Guards 各路由分组挂载的鉴权中间件
type Guards struct {
	Optional gin.HandlerFunc
	User     gin.HandlerFunc
	Admin    gin.HandlerFunc
}

func NewGuards(g *service.Gate) Guards {
	return Guards{
		Optional: mdw.OptionalAuth(g),
		User:     mdw.Authenticate(g),
		Admin:    mdw.Authorize(g, domain.RoleAdmin),
	}
}

func (gd Guards) admin(r *gin.RouterGroup) *gin.RouterGroup { return r.Group("", gd.User, gd.Admin) }
