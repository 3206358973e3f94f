package middleware

import (
	"net/http"
)

// ページゲートが管理するパス。
const (
	LoginPath = "/login"
	HomePath  = "/home"
	RootPath  = "/"
)

// GateDecision は認証状態とパスからリダイレクト先を決める。
// redirectがfalseの場合はそのまま後続のハンドラーに渡す。
// 判定順: 認証済みで/login → /home、未認証で/home → /login、/ → 状態に応じて振り分け。
func GateDecision(authenticated bool, path string) (target string, redirect bool) {
	switch {
	case authenticated && path == LoginPath:
		return HomePath, true
	case !authenticated && path == HomePath:
		return LoginPath, true
	case path == RootPath:
		if authenticated {
			return HomePath, true
		}
		return LoginPath, true
	}
	return "", false
}

// isGatedPath はゲートの判定対象となるパスかを返す。
func isGatedPath(path string) bool {
	return path == LoginPath || path == HomePath || path == RootPath
}

// NewAuthGate はページ遷移を認証状態で振り分けるミドルウェアを返す。
// 判定はトークンの検証のみで行い、DBにはアクセスしない。
// 認証済みの場合はclaimsをコンテキストに注入して後続のページハンドラーに渡す。
func NewAuthGate(cookie SessionReader, verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isGatedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authenticated := false
			if token, ok := cookie.Read(r); ok {
				if claims, err := verifier.Verify(token); err == nil {
					authenticated = true
					r = r.WithContext(withClaims(r.Context(), claims))
				}
			}

			if target, redirect := GateDecision(authenticated, r.URL.Path); redirect {
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
