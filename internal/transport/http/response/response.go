package response

import (
	"errors"
	"net/http"

	"catalog-api/internal/domain"
)

type Resp struct {
	Code   int      `json:"code"`
	Msg    string   `json:"message"`
	Kind   string   `json:"error,omitempty"`
	Errors []string `json:"errors,omitempty"`
	Data   any      `json:"data"`
}

// New 构造响应（保证 data 不为 null）
func New(code int, msg string, data any) Resp {
	if data == nil {
		data = struct{}{}
	}
	return Resp{Code: code, Msg: msg, Data: data}
}

func OK(data any) Resp {
	return New(CodeOK, CodeMsgMap[CodeOK], data)
}

// Error 失败响应（customMsg 为空时使用默认 msg）
func Error(code int, customMsg string) Resp {
	msg := CodeMsgMap[code]
	if customMsg != "" {
		msg = customMsg
	}
	return New(code, msg, nil)
}

// Status 错误类型 → HTTP 状态码
func Status(k domain.Kind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// FromError 构造失败响应；内部原因不返回给客户端，一致性错误保留独立错误码
func FromError(err error) (int, Resp) {
	k := domain.KindOf(err)
	status := Status(k)
	r := Error(status, "")
	r.Kind = k.String()

	var de *domain.Error
	switch {
	case k == domain.KindInternal:
		r.Msg = "internal error"
	case k == domain.KindIntegrity:
		r.Msg = "the catalog could not be updated consistently; no changes were applied"
	default:
		if errors.As(err, &de) {
			r.Msg = de.Msg
			r.Errors = de.Details
		}
	}
	return status, r
}
