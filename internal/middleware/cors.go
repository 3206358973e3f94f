package middleware

import (
	"net/http"
	"strings"
)

// NewCORSMiddleware は許可オリジンに対するCORSミドルウェアを返す。
// allowedOriginsはカンマ区切りで複数指定できる。
// credentials送信と共存するため、ワイルドカード(*)は使用せず、許可されたOriginをそのまま返す。
// Originヘッダーのないリクエストには先頭の許可オリジンを返す。
// OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			if origin, ok := matchOrigin(origins, r.Header.Get("Origin")); ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// OPTIONSプリフライトリクエストには204で応答
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func parseOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" && o != "*" {
			origins = append(origins, o)
		}
	}
	return origins
}

// matchOrigin はrequestOriginが許可されていればそれを返す。
// requestOriginが空の場合は先頭の許可オリジンを返す。
func matchOrigin(allowed []string, requestOrigin string) (string, bool) {
	if len(allowed) == 0 {
		return "", false
	}
	if requestOrigin == "" {
		return allowed[0], true
	}
	for _, o := range allowed {
		if o == requestOrigin {
			return o, true
		}
	}
	return "", false
}
