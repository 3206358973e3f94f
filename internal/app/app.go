package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/profilehub/internal/address"
	"github.com/hitoshi/profilehub/internal/auth"
	"github.com/hitoshi/profilehub/internal/config"
	"github.com/hitoshi/profilehub/internal/database"
	"github.com/hitoshi/profilehub/internal/handler"
	"github.com/hitoshi/profilehub/internal/logger"
	"github.com/hitoshi/profilehub/internal/metrics"
	"github.com/hitoshi/profilehub/internal/middleware"
	"github.com/hitoshi/profilehub/internal/profile"
	"github.com/hitoshi/profilehub/internal/repository"
	"github.com/hitoshi/profilehub/internal/security"
	"github.com/hitoshi/profilehub/internal/storage"
)

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		return err
	}

	slog.Info("database connection established")

	// 2. アバター画像ストア（バケット未設定の場合は削除を行わない）
	avatars, closeAvatars, err := newAvatarStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeAvatars()

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 4. 依存関係のワイヤリング
	router, stopRouter, err := buildRouter(cfg, db, avatars, reg)
	if err != nil {
		return err
	}
	defer stopRouter()

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildRouter はリポジトリ・サービス・ハンドラーを組み立ててルーターを返す。
// 返り値のstop関数はレート制限のクリーンアップgoroutineを停止する。
func buildRouter(cfg *config.Config, db *sql.DB, avatars storage.AvatarStore, reg *prometheus.Registry) (http.Handler, func(), error) {
	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	addressRepo := repository.NewPostgresAddressRepo(db)

	// 認証
	codec, err := auth.NewTokenCodec([]byte(cfg.SessionSecret))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token codec: %w", err)
	}
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(oauthProvider, userRepo, codec, auth.ServiceConfig{
		SessionTTL: cfg.SessionTTL,
	})
	sessionCookie := auth.NewSessionCookie(auth.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
		MaxAge: cfg.SessionTTL,
	})

	collector := metrics.NewCollector(reg)

	// ドメインサービス
	profileService := profile.NewService(
		userRepo, security.NewTextSanitizer(), avatars, authService, collector,
	)
	addressService := address.NewService(addressRepo)

	// configのレート制限はreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          slog.Default(),
		HealthChecker:   db,
		Metrics:         collector,
		MetricsGatherer: reg,

		SessionCookie:     sessionCookie,
		TokenVerifier:     codec,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieSecure: cfg.CookieSecure,
		},

		ProfileService: profileService,
		AddressService: addressService,
	})

	return router, rateLimiter.Stop, nil
}

// newAvatarStore はGCS_BUCKET_NAMEが設定されていればGCSのAvatarStoreを、
// そうでなければNopAvatarStoreを返す。
func newAvatarStore(ctx context.Context, cfg *config.Config) (storage.AvatarStore, func(), error) {
	if cfg.GCSBucketName == "" {
		slog.Info("avatar bucket not configured, old avatars will not be deleted")
		return storage.NopAvatarStore{}, func() {}, nil
	}

	store, err := storage.NewGCSAvatarStore(ctx, storage.GCSConfig{
		Bucket:             cfg.GCSBucketName,
		KeyfilePath:        cfg.GCSKeyfilePath,
		ServiceAccountJSON: cfg.GCSServiceAccountJSON,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create avatar store: %w", err)
	}

	slog.Info("avatar store configured", slog.String("bucket", cfg.GCSBucketName))
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close avatar store", slog.String("error", err.Error()))
		}
	}, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrationsWithStatus(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(status.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
