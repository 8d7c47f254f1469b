// Package apperr 许可证与两步验证共用的业务错误，每个错误带固定的 code
package apperr

import (
	"errors"
	"net/http"
)

// Error 业务错误
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Message
}

func newError(status int, code, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// 许可证
var (
	ErrMalformedInput = newError(http.StatusBadRequest, "malformed_input", "invalid request format")
	ErrNotFound       = newError(http.StatusNotFound, "not_found", "license not found")
	ErrDeactivated    = newError(http.StatusForbidden, "deactivated", "license is deactivated")
	ErrExpired        = newError(http.StatusForbidden, "expired", "license expired")
	ErrDeviceMismatch = newError(http.StatusForbidden, "device_mismatch", "license is bound to another device")
	ErrLimitReached   = newError(http.StatusForbidden, "limit_reached", "activation limit reached")
)

// 两步验证
var (
	ErrNoChallenge      = newError(http.StatusUnauthorized, "no_challenge", "no verification code is pending")
	ErrChallengeExpired = newError(http.StatusUnauthorized, "challenge_expired", "verification code expired")
	ErrCodeMismatch     = newError(http.StatusUnauthorized, "code_mismatch", "invalid verification code")
	ErrDeliveryFailure  = newError(http.StatusBadGateway, "delivery_failure", "failed to deliver verification code")

	// ErrInvalidCredentials 邮箱不存在与密码错误不作区分
	ErrInvalidCredentials = newError(http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
)

// 账号与权限
var (
	ErrUnauthorized      = newError(http.StatusUnauthorized, "unauthorized", "unauthorized")
	ErrForbidden         = newError(http.StatusForbidden, "forbidden", "forbidden")
	ErrConflict          = newError(http.StatusConflict, "conflict", "resource already exists")
	ErrUserNotFound      = newError(http.StatusNotFound, "user_not_found", "user not found")
	ErrLinkCodeInvalid   = newError(http.StatusBadRequest, "link_code_invalid", "invalid or expired link code")
	ErrTelegramNotLinked = newError(http.StatusBadRequest, "telegram_not_linked", "telegram account is not linked")
	ErrUnavailable       = newError(http.StatusServiceUnavailable, "unavailable", "feature is not configured")
)

const (
	codeInternal    = "internal"
	messageInternal = "internal server error"
)

// As 取出 err 中包装的业务错误
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Code 返回错误码，未知错误返回 "internal"
func Code(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return codeInternal
}

// Status 返回 HTTP 状态码，未知错误为 500
func Status(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Message 返回对外的错误信息，不泄露未知错误的内容
func Message(err error) string {
	if e, ok := As(err); ok {
		return e.Message
	}
	return messageInternal
}

// IsInternal 是否为业务错误之外的内部错误
func IsInternal(err error) bool {
	_, ok := As(err)
	return !ok
}
