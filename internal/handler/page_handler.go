package handler

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/profilehub/internal/middleware"
)

// loginErrorMessages はerrorタグごとのログイン画面の表示文言。
var loginErrorMessages = map[string]string{
	loginErrorNoCode:              "Sign-in was cancelled. Please try again.",
	loginErrorOAuthDenied:         "Google sign-in was denied.",
	loginErrorInvalidState:        "Your sign-in session expired. Please try again.",
	loginErrorTokenExchangeFailed: "Could not complete sign-in with Google.",
	loginErrorUserInfoFailed:      "Could not read your Google profile.",
	loginErrorAuthFailed:          "Sign-in failed. Please try again.",
}

var pageTemplates = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<p><a href="/auth/login-redirect">Sign in with Google</a></p>
</body>
</html>
`))

func init() {
	template.Must(pageTemplates.New("home").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Home</title></head>
<body>
<h1>Hello, {{.Name}}</h1>
{{if .Picture}}<img src="{{.Picture}}" alt="" width="64" height="64">{{end}}
<p>{{.Email}}</p>
<form method="post" action="/auth/logout" onsubmit="event.preventDefault(); fetch('/auth/logout', {method: 'POST'}).then(function () { window.location.href = '/login'; });">
<button type="submit">Sign out</button>
</form>
</body>
</html>
`))
}

// PageHandler はログイン画面とホーム画面を描画する。
// 認証状態による振り分けはAuthGateが行う。
type PageHandler struct{}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler() *PageHandler {
	return &PageHandler{}
}

// Login はログイン画面を返す。
// GET /login[?error=<tag>]
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	var data struct{ Error string }
	if tag := r.URL.Query().Get("error"); tag != "" {
		msg, ok := loginErrorMessages[tag]
		if !ok {
			msg = loginErrorMessages[loginErrorAuthFailed]
		}
		data.Error = msg
	}
	renderPage(w, "login", data)
}

// Home はログインユーザー向けのホーム画面を返す。
// GET /home
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, middleware.LoginPath, http.StatusFound)
		return
	}
	renderPage(w, "home", struct {
		Name    string
		Email   string
		Picture string
	}{
		Name:    claims.DisplayName,
		Email:   claims.Email,
		Picture: claims.AvatarURL,
	})
}

func renderPage(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
	}
}
