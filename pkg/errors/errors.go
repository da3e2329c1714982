package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"

	// Gateway-specific codes (spec §7 error taxonomy).
	CodeAuthMissing    ErrorCode = "AUTH_MISSING"
	CodeBadRequest     ErrorCode = "BAD_REQUEST"
	CodeNoProjects     ErrorCode = "NO_PROJECTS"
	CodeAllDisabled    ErrorCode = "ALL_DISABLED"
	CodeRefreshFailed  ErrorCode = "REFRESH_FAILED"
	CodeUpstreamStatus ErrorCode = "UPSTREAM_STATUS"
	CodeUpstreamAuth   ErrorCode = "UPSTREAM_AUTH"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeStreamInternal ErrorCode = "STREAM_INTERNAL"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with an arbitrary code, for call sites that don't
// warrant a dedicated constructor.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewAlreadyExistsError 创建已存在错误
func NewAlreadyExistsError(message string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsInvalidInput 判断是否为无效输入错误
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput
	}
	return false
}

// NewUpstreamStatusError wraps a non-200 upstream response. The status and
// body are embedded in the message; the AppError has no separate status
// field, so HTTPStatus maps it to 500.
func NewUpstreamStatusError(status int, body string) *AppError {
	return &AppError{
		Code:    CodeUpstreamStatus,
		Message: fmt.Sprintf("upstream status %d: %s", status, body),
	}
}

// HTTPStatus maps an AppError's code to the HTTP status the gateway surface
// should return, per spec §7. CodeUpstreamStatus is usually handled by the
// caller directly (streaming.Proxy.Send already returns the original
// upstream status alongside the error); this falls back to 500 if it
// reaches here some other way.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeAuthMissing:
		return 401
	case CodeBadRequest:
		return 400
	case CodeNoProjects, CodeAllDisabled, CodeRefreshFailed, CodeInternal:
		return 500
	case CodeUpstreamAuth:
		return 401
	case CodeTimeout:
		return 504
	default:
		return 500
	}
}

// IsAllDisabled reports whether err is an AppError signaling that every
// project in the pool is disabled.
func IsAllDisabled(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeAllDisabled
	}
	return false
}

// IsNoProjects reports whether err is an AppError signaling an empty pool.
func IsNoProjects(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNoProjects
	}
	return false
}
