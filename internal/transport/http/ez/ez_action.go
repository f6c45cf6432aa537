package ez

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"catalog-api/internal/domain"
	resp "catalog-api/internal/transport/http/response"
)

// EZ 轻封装：在分组上注册带统一绑定与错误映射的动作
type EZ struct {
	g   *gin.RouterGroup
	log *zap.Logger
}

func New(g *gin.RouterGroup, l *zap.Logger) EZ {
	if l == nil {
		l = zap.NewNop()
	}
	return EZ{g: g, log: l}
}

// 绑定方式
type Binder string

const (
	BindJSON         Binder = "json"          // JSON body，必填
	BindOptionalJSON Binder = "optional_json" // JSON body，可为空
	BindQuery        Binder = "query"         // URL ?a=b
	BindNone         Binder = "none"          // 不绑定，自己从 c.Param 取
)

// Action 动作定义：I 入参，O 出参
type Action[I any, O any] struct {
	Method  string // GET | POST | PUT | PATCH | DELETE
	Path    string // 例："/products/:id/restore"
	Binder  Binder
	Status  int // 成功状态码，默认 200
	Handler func(c *gin.Context, in *I) (O, error)
}

// RegisterAction 在当前 EZ 下注册动作接口
func RegisterAction[I any, O any](e EZ, a Action[I, O]) {
	status := a.Status
	if status == 0 {
		status = http.StatusOK
	}
	h := func(c *gin.Context) {
		// 1) 绑定入参
		var in I
		var bindErr error
		switch a.Binder {
		case BindJSON:
			bindErr = c.ShouldBindJSON(&in)
		case BindOptionalJSON:
			if c.Request.ContentLength != 0 {
				if bindErr = c.ShouldBindJSON(&in); errors.Is(bindErr, io.EOF) {
					bindErr = nil
				}
			}
		case BindQuery:
			bindErr = c.ShouldBindQuery(&in)
		}
		if bindErr != nil {
			failBind(c, e.log, bindErr)
			return
		}

		// 2) 执行
		out, err := a.Handler(c, &in)

		// 3) 统一错误映射
		if err != nil {
			Fail(c, e.log, err)
			return
		}
		c.JSON(status, resp.OK(out))
	}

	switch strings.ToUpper(a.Method) {
	case http.MethodGet:
		e.g.GET(a.Path, h)
	case http.MethodPut:
		e.g.PUT(a.Path, h)
	case http.MethodPatch:
		e.g.PATCH(a.Path, h)
	case http.MethodDelete:
		e.g.DELETE(a.Path, h)
	default: // 默认 POST
		e.g.POST(a.Path, h)
	}
}

// Files 处理 multipart/form-data 多文件上传
func Files[O any](e EZ, method, path, field string, maxFiles int, h func(c *gin.Context, files []*multipart.FileHeader) (O, error)) {
	handler := func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			failBind(c, e.log, err)
			return
		}
		files := form.File[field]
		switch {
		case len(files) == 0:
			Fail(c, e.log, domain.Validation(`"`+field+`" must contain at least one file`))
			return
		case maxFiles > 0 && len(files) > maxFiles:
			Fail(c, e.log, domain.Validation(`"`+field+`" accepts at most `+strconv.Itoa(maxFiles)+` files`))
			return
		}
		out, err := h(c, files)
		if err != nil {
			Fail(c, e.log, err)
			return
		}
		c.JSON(http.StatusCreated, resp.OK(out))
	}
	if strings.ToUpper(method) == http.MethodPut {
		e.g.PUT(path, handler)
		return
	}
	e.g.POST(path, handler)
}

// Fail 按真实 HTTP 状态码写错误响应；5xx 带 request id 记日志，客户端只看到通用消息
func Fail(c *gin.Context, l *zap.Logger, err error) {
	status, body := resp.FromError(err)
	if status >= http.StatusInternalServerError {
		l.Error("request failed",
			zap.String("rid", c.GetString("X-Request-ID")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("kind", body.Kind),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, body)
}

// failBind 绑定失败：超出 body 上限回 413，其余按参数错误回 400
func failBind(c *gin.Context, l *zap.Logger, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, resp.Error(resp.CodeTooLarge, "request body too large"))
		return
	}
	Fail(c, l, domain.Validation(bindMessage(err)))
}

func bindMessage(err error) string {
	if errors.Is(err, io.EOF) {
		return "request body is required"
	}
	if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
		return "request must be multipart/form-data"
	}
	return "malformed request: " + err.Error()
}
