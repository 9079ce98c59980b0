package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCode 统一错误码
type ErrorCode string

// 管线错误码
const (
	// ErrInvalidRequest 入站请求格式错误（唯一会以非 2xx 返回给调用方的错误）
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrRateLimited 触发限流（面向用户，附带等待提示，不重试）
	ErrRateLimited ErrorCode = "RATE_LIMITED"

	// ErrUpstreamTimeout 上游调用超时（瞬时，可重试）
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"

	// ErrUpstreamError 上游 5xx / 连接错误（瞬时，可重试）
	ErrUpstreamError ErrorCode = "UPSTREAM_ERROR"

	// ErrUpstreamRejected 上游 4xx（429 除外）或响应格式错误（永久，不重试）
	ErrUpstreamRejected ErrorCode = "UPSTREAM_REJECTED"

	// ErrCircuitOpen 熔断器打开，快速失败
	ErrCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// ErrValidationFailed 答案安全/引用校验失败（永不原样透出）
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"

	// ErrStoreUnavailable 文档存储不可用（检索降级为空结果）
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// Error 结构化错误，携带错误码与可重试标记
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Upstream   string    `json:"upstream,omitempty"`
	Cause      error     `json:"-"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 创建结构化错误
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause 附加底层错误
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus 设置 HTTP 状态码
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable 标记是否可重试
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUpstream 标记来源上游依赖
func (e *Error) WithUpstream(upstream string) *Error {
	e.Upstream = upstream
	return e
}

// GetErrorCode 从错误中提取错误码
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// transientPatterns 瞬时错误的消息特征（网络/超时/5xx/429）
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"too many requests",
	"service unavailable",
}

// IsTransient 判断错误是否为瞬时上游错误（RetryExecutor 的重试依据，
// 同时计入熔断器失败窗口）。限流错误与校验错误永远不算瞬时。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case ErrUpstreamTimeout, ErrUpstreamError:
			return true
		case ErrRateLimited, ErrCircuitOpen, ErrValidationFailed,
			ErrInvalidRequest, ErrUpstreamRejected:
			return false
		}
		return e.Retryable
	}

	// context 超时属于瞬时；主动取消不重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsCircuitOpen 判断错误是否为熔断快速失败
func IsCircuitOpen(err error) bool {
	return GetErrorCode(err) == ErrCircuitOpen
}

// IsRateLimited 判断错误是否为限流拒绝
func IsRateLimited(err error) bool {
	return GetErrorCode(err) == ErrRateLimited
}
