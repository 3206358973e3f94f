// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/profilehub/internal/auth"
	"github.com/hitoshi/profilehub/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// claimsContextKey は検証済みセッションのclaimsを格納するためのキー。
	claimsContextKey = contextKey("session_claims")
)

// SessionReader はリクエストからセッショントークンを取り出す。
// auth.SessionCookieが実装する。
type SessionReader interface {
	Read(r *http.Request) (string, bool)
}

// TokenVerifier はセッショントークンを検証する。
// auth.TokenCodecが実装する。
type TokenVerifier interface {
	Verify(token string) (*auth.SessionClaims, error)
}

// SessionRejectRecorder はセッション検証の失敗を記録する。
type SessionRejectRecorder interface {
	RecordSessionRejected()
}

// NewSessionMiddleware はHTTP Only Cookieからセッショントークンを読み取り、
// 署名と有効期限を検証するミドルウェアを返す。
// 認証済みユーザーIDとclaimsをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(cookie SessionReader, verifier TokenVerifier, recorder SessionRejectRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからトークンを取得
			token, ok := cookie.Read(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. 署名と有効期限を検証
			claims, err := verifier.Verify(token)
			if err != nil {
				slog.Debug("session token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				if recorder != nil {
					recorder.RecordSessionRejected()
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 認証済みユーザーIDとclaimsをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// withClaims はclaimsとユーザーIDをコンテキストに注入する。
// ロギングミドルウェアが外側にある場合はユーザーIDを通知する。
func withClaims(ctx context.Context, claims *auth.SessionClaims) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = claims.SubjectID
	}
	ctx = context.WithValue(ctx, claimsContextKey, claims)
	return context.WithValue(ctx, userIDContextKey, claims.SubjectID)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ClaimsFromContext はリクエストコンテキストから検証済みセッションのclaimsを取得する。
// 未認証の場合はnil, falseを返す。
func ClaimsFromContext(ctx context.Context) (*auth.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.SessionClaims)
	return claims, ok && claims != nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithClaims はコンテキストにclaimsとユーザーIDを注入する。テスト用。
func ContextWithClaims(ctx context.Context, claims *auth.SessionClaims) context.Context {
	return withClaims(ctx, claims)
}
