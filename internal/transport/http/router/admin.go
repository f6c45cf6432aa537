package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewAdminEngine 管理端 v1：整个分组统一要求 guards（登录 + admin 角色）
func NewAdminEngine(l *zap.Logger, reg *Registry, opt EngineOptions, guards ...gin.HandlerFunc) *gin.Engine {
	r := newEngine(l, "admin", opt)

	admin := r.Group("/admin/v1", guards...)
	reg.MountAdmin(admin)
	return r
}
