package auth

import (
	"net/http"
	"time"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session"

// CookieConfig はセッションCookieの属性設定。
type CookieConfig struct {
	Domain string
	Secure bool // 本番環境（HTTPS）ではtrue
	MaxAge time.Duration
}

// SessionCookie はセッショントークンをHTTP Only Cookieとして読み書きする。
type SessionCookie struct {
	config CookieConfig
}

// NewSessionCookie はSessionCookieを生成する。
func NewSessionCookie(config CookieConfig) *SessionCookie {
	return &SessionCookie{config: config}
}

// Write はセッショントークンをCookieに設定する。
// Max-AgeはトークンのTTLと一致させる。
func (c *SessionCookie) Write(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.newCookie(token, int(c.config.MaxAge/time.Second)))
}

// Read はリクエストからセッショントークンを取得する。
// Cookieが存在しないか空の場合はfalseを返す。
func (c *SessionCookie) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Clear はセッションCookieを削除する。
func (c *SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.newCookie("", -1))
}

func (c *SessionCookie) newCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
