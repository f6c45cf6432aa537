package middleware

import (
	"github.com/gin-gonic/gin"

	"catalog-api/internal/domain"
	"catalog-api/internal/service"
	resp "catalog-api/internal/transport/http/response"
)

const (
	KeyUserID = "userId"
	KeyRole   = "role"
)

// Authenticate 要求合法 Bearer token，并把 Identity 放进 request context
func Authenticate(g *service.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := g.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			abort(c, err)
			return
		}
		attach(c, id)
		c.Next()
	}
}

// OptionalAuth 有合法 token 就解析身份，缺失或无效都按匿名处理
func OptionalAuth(g *service.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h := c.GetHeader("Authorization"); h != "" {
			if id, err := g.Authenticate(c.Request.Context(), h); err == nil {
				attach(c, id)
			}
		}
		c.Next()
	}
}

// Authorize 必须挂在 Authenticate 之后
func Authorize(g *service.Gate, role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := g.Authorize(c.Request.Context(), role); err != nil {
			abort(c, err)
			return
		}
		c.Next()
	}
}

func attach(c *gin.Context, id domain.Identity) {
	c.Request = c.Request.WithContext(domain.WithIdentity(c.Request.Context(), id))
	c.Set(KeyUserID, id.UserID)
	c.Set(KeyRole, string(id.Role))
}

func abort(c *gin.Context, err error) {
	status, body := resp.FromError(err)
	c.AbortWithStatusJSON(status, body)
}
