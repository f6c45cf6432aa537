package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	resp "catalog-api/internal/transport/http/response"
)

// RecoveryHandler 配合 ginzap.CustomRecoveryWithZap 使用：panic 已由 ginzap 记录，这里只回包
func RecoveryHandler(c *gin.Context, _ any) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, resp.Error(resp.CodeServerError, "internal error"))
}
