package domain

import "errors"

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUnauthenticated
	KindForbidden
	KindIntegrity
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindIntegrity:
		return "integrity_error"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error 业务错误，从 service 层传到 transport 层
type Error struct {
	Kind    Kind
	Msg     string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(details ...string) error {
	return &Error{Kind: KindValidation, Msg: "validation failed", Details: details}
}
func Conflict(msg string) error        { return &Error{Kind: KindConflict, Msg: msg} }
func NotFound(msg string) error        { return &Error{Kind: KindNotFound, Msg: msg} }
func Unauthenticated(msg string) error { return &Error{Kind: KindUnauthenticated, Msg: msg} }
func Forbidden(msg string) error       { return &Error{Kind: KindForbidden, Msg: msg} }
func RateLimited(msg string) error     { return &Error{Kind: KindRateLimited, Msg: msg} }
func Integrity(msg string, err error) error {
	return &Error{Kind: KindIntegrity, Msg: msg, Err: err}
}
func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf 错误分类；非 *Error 一律视为 internal
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

var (
	ErrInvalidCredentials = Unauthenticated("invalid email or password")
	ErrInvalidToken       = Unauthenticated("invalid or expired token")
	ErrMissingToken       = Unauthenticated("sign in to continue")
	ErrAdminRequired      = Forbidden("admin role required")
)
