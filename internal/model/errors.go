// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Messageはそのままクライアントに返すため、内部の詳細を含めてはならない。
type APIError struct {
	Code    string // エラーコード
	Message string // エラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeAddressNotFound = "ADDRESS_NOT_FOUND"
	ErrCodeRateLimited     = "RATE_LIMIT_EXCEEDED"
	ErrCodeUpstream        = "UPSTREAM_ERROR"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:    ErrCodeUnauthorized,
		Message: "Unauthorized",
	}
}

// NewForbiddenError は他ユーザーのリソースへのアクセスを拒否するエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:    ErrCodeForbidden,
		Message: "You do not have access to this resource",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:    ErrCodeUserNotFound,
		Message: "User not found",
	}
}

// NewAddressNotFoundError は住所が見つからない場合のエラーを生成する。
func NewAddressNotFoundError(addressID string) *APIError {
	return &APIError{
		Code:    ErrCodeAddressNotFound,
		Message: fmt.Sprintf("Address not found: %s", addressID),
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:    ErrCodeRateLimited,
		Message: "Too many requests. Please try again later.",
	}
}

// NewUpstreamError は外部サービス（IdP、ストレージ）の障害エラーを生成する。
func NewUpstreamError() *APIError {
	return &APIError{
		Code:    ErrCodeUpstream,
		Message: "An upstream service is unavailable",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:    ErrCodeInternal,
		Message: "Internal server error",
	}
}
