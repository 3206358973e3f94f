package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/profilehub/internal/model"
)

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	// TrustedOrigins は状態変更リクエストを受け付けるオリジン（scheme://host[:port]）。
	TrustedOrigins []string
}

// NewCSRFConfig はアプリのBASE_URLとCORS許可オリジン（カンマ区切り）からCSRFConfigを生成する。
func NewCSRFConfig(baseURL, corsAllowedOrigins string) CSRFConfig {
	origins := parseOrigins(corsAllowedOrigins)
	if o := originOf(baseURL); o != "" {
		origins = append(origins, o)
	}
	return CSRFConfig{TrustedOrigins: origins}
}

// NewCSRFMiddleware は状態変更リクエストの送信元オリジンを検証するミドルウェアを返す。
// 安全なメソッド（GET, HEAD, OPTIONS）は検証をスキップする。
// 状態変更メソッド（POST, PUT, PATCH, DELETE）はOriginヘッダー、なければRefererのオリジンが
// 信頼済みでない場合に403を返す。どちらも無いリクエストはブラウザ以外からの呼び出しとして通す。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	trusted := make(map[string]struct{}, len(config.TrustedOrigins))
	for _, o := range config.TrustedOrigins {
		trusted[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := requestOrigin(r)
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := trusted[origin]; !ok {
				slog.Warn("CSRF validation failed: untrusted origin",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// requestOrigin はOriginヘッダー、なければRefererからオリジンを取り出す。
// "null"オリジン（sandbox iframe等）はそのまま返し、信頼済みとは一致させない。
func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		if o == "null" {
			return o
		}
		return originOf(o)
	}
	return originOf(r.Header.Get("Referer"))
}

// originOf はURLからscheme://host部分を返す。解釈できない場合は空文字を返す。
func originOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
