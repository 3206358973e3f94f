package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/profilehub/internal/metrics"
	"github.com/hitoshi/profilehub/internal/middleware"
)

// SessionCookieStore はセッションCookieの読み書きを行う。
// auth.SessionCookieが実装する。
type SessionCookieStore interface {
	middleware.SessionReader
	SessionCookieWriter
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger        *slog.Logger
	HealthChecker HealthChecker

	// メトリクス（Gathererがnilの場合は/metricsを公開しない）
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// ミドルウェア依存
	SessionCookie     SessionCookieStore
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プロフィール・住所
	ProfileService ProfileServiceInterface
	AddressService AddressServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → CSRF → AuthGate
//
// 認証ルート（/auth/*）にはIP単位、APIルートにはユーザー単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(middleware.NewCSRFConfig(deps.AuthConfig.BaseURL, deps.CORSAllowedOrigin)))
	r.Use(middleware.NewAuthGate(deps.SessionCookie, deps.TokenVerifier))

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionCookie, collector, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.SessionCookie)
	addressHandler := NewAddressHandler(deps.AddressService)
	pageHandler := NewPageHandler()

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- ページ（認証状態による振り分けはAuthGateが行う） ---
	r.Get(middleware.RootPath, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, middleware.LoginPath, http.StatusFound)
	})
	r.Get(middleware.LoginPath, pageHandler.Login)
	r.Get(middleware.HomePath, pageHandler.Home)

	// --- 認証ルート（OAuthフロー） ---
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Get("/login-redirect", authHandler.LoginRedirect)
		r.Get("/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionCookie, deps.TokenVerifier, collector))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/profile", profileHandler.GetProfile)
		r.Patch("/profile", profileHandler.UpdateProfile)

		r.Route("/addresses", func(r chi.Router) {
			r.Get("/", addressHandler.ListAddresses)
			r.Post("/", addressHandler.CreateAddress)
			r.Put("/", addressHandler.UpdateAddress)
			r.Delete("/", addressHandler.DeleteAddress)
		})
	})

	return r
}
