package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/profilehub/internal/auth"
	"github.com/hitoshi/profilehub/internal/metrics"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分

	// popupStatePrefix はポップアップ経由のログインであることをstateに埋め込むための接頭辞。
	popupStatePrefix = "popup."
)

// コールバック失敗時に/loginへ付与するerrorタグ。
const (
	loginErrorNoCode              = "no_code"
	loginErrorOAuthDenied         = "oauth_denied"
	loginErrorInvalidState        = "invalid_state"
	loginErrorTokenExchangeFailed = "token_exchange_failed"
	loginErrorUserInfoFailed      = "userinfo_failed"
	loginErrorAuthFailed          = "auth_failed"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*auth.LoginResult, error)
}

// SessionCookieWriter はセッションCookieの書き込みと削除を行う。
// auth.SessionCookieが実装する。
type SessionCookieWriter interface {
	Write(w http.ResponseWriter, token string)
	Clear(w http.ResponseWriter)
}

// LoginRecorder はログイン結果を記録する。
type LoginRecorder interface {
	RecordLogin(outcome string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string // ポップアップからpostMessageする際のターゲットオリジン
	CookieSecure bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	cookie   SessionCookieWriter
	recorder LoginRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookie SessionCookieWriter, recorder LoginRecorder, config AuthHandlerConfig) *AuthHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &AuthHandler{
		service:  service,
		cookie:   cookie,
		recorder: recorder,
		config:   config,
	}
}

// LoginRedirect はGoogle OAuthフローを開始する。
// GET /auth/login-redirect[?popup=1]
func (h *AuthHandler) LoginRedirect(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		redirectLoginError(w, r, loginErrorAuthFailed)
		return
	}
	if r.URL.Query().Get("popup") == "1" {
		state = popupStatePrefix + state
	}

	// stateをCookieに保存（CSRF対策）
	h.setStateCookie(w, state, oauthStateMaxAge)

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
// 失敗した場合は/login?error=<tag>へリダイレクトし、上流のエラー内容はログにのみ残す。
// ポップアップ経由の場合は成否を親ウィンドウにpostMessageで通知する。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := query.Get("state")
	stateCookie, cookieErr := r.Cookie(oauthStateCookie)

	popup := strings.HasPrefix(state, popupStatePrefix)
	if state == "" && cookieErr == nil {
		popup = strings.HasPrefix(stateCookie.Value, popupStatePrefix)
	}

	// stateは1回限り。成否にかかわらず破棄する
	h.setStateCookie(w, "", -1)

	// 1. 認可コードの取得
	code := query.Get("code")
	if code == "" {
		tag := loginErrorNoCode
		if providerErr := query.Get("error"); providerErr != "" {
			slog.Warn("oauth provider returned error", slog.String("error", providerErr))
			tag = loginErrorOAuthDenied
		}
		h.fail(w, r, popup, tag)
		return
	}

	// 2. stateの検証（CSRF対策）
	if cookieErr != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		h.fail(w, r, popup, loginErrorInvalidState)
		return
	}

	// 3. 認証処理（トークン交換、ユーザー情報取得、UPSERT、セッション発行）
	result, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.fail(w, r, popup, callbackErrorTag(err))
		return
	}

	// 4. セッションCookieを設定
	h.cookie.Write(w, result.Token)
	h.recorder.RecordLogin(metrics.LoginOutcomeSuccess)

	// 5. ポップアップの場合は親ウィンドウに通知して閉じる
	if popup {
		h.writePopupResult(w, popupResult{Type: popupMessageSuccess, Fallback: "/home"})
		return
	}
	http.Redirect(w, r, "/home", http.StatusFound)
}

// Logout はセッションCookieを削除する。
// POST /auth/logout
// トークンはステートレスなため、サーバー側で破棄するものはない。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookie.Clear(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, popup bool, tag string) {
	h.recorder.RecordLogin(tag)
	if popup {
		h.writePopupResult(w, popupResult{
			Type:     popupMessageError,
			Error:    tag,
			Fallback: loginErrorPath(tag),
		})
		return
	}
	redirectLoginError(w, r, tag)
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ポップアップから親ウィンドウへ送るメッセージ種別。
const (
	popupMessageSuccess = "auth-success"
	popupMessageError   = "auth-error"
)

// popupResult はポップアップページに埋め込む内容。
// Fallbackはopenerが無い場合（ポップアップがブロックされた等）の遷移先。
type popupResult struct {
	Origin   string
	Type     string
	Error    string
	Fallback string
}

// popupResultTemplate はポップアップログイン終了時に返すページ。
var popupResultTemplate = template.Must(template.New("popup").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<script>
(function () {
  var origin = {{.Origin}};
  if (window.opener) {
    var message = { type: {{.Type}} };
    {{if .Error}}message.error = {{.Error}};{{end}}
    window.opener.postMessage(message, origin);
    window.close();
  } else {
    window.location.replace({{.Fallback}});
  }
})();
</script>
</body>
</html>
`))

func (h *AuthHandler) writePopupResult(w http.ResponseWriter, result popupResult) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	result.Origin = h.config.BaseURL
	if err := popupResultTemplate.Execute(w, result); err != nil {
		slog.Error("failed to render popup page", slog.String("error", err.Error()))
	}
}

// callbackErrorTag は認証処理の失敗段階に応じたerrorタグを返す。
func callbackErrorTag(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExchangeFailed):
		return loginErrorTokenExchangeFailed
	case errors.Is(err, auth.ErrUserInfoFailed):
		return loginErrorUserInfoFailed
	default:
		return loginErrorAuthFailed
	}
}

func redirectLoginError(w http.ResponseWriter, r *http.Request, tag string) {
	http.Redirect(w, r, loginErrorPath(tag), http.StatusFound)
}

func loginErrorPath(tag string) string {
	return "/login?error=" + url.QueryEscape(tag)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
