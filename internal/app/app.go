package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/mavae-gateway/internal/apiclient"
	"github.com/hitoshi/mavae-gateway/internal/auth"
	"github.com/hitoshi/mavae-gateway/internal/config"
	"github.com/hitoshi/mavae-gateway/internal/database"
	"github.com/hitoshi/mavae-gateway/internal/handler"
	"github.com/hitoshi/mavae-gateway/internal/logger"
	"github.com/hitoshi/mavae-gateway/internal/media"
	"github.com/hitoshi/mavae-gateway/internal/metrics"
	"github.com/hitoshi/mavae-gateway/internal/middleware"
	"github.com/hitoshi/mavae-gateway/internal/repository"
	"github.com/hitoshi/mavae-gateway/internal/security"
	"github.com/hitoshi/mavae-gateway/internal/store"
	"github.com/hitoshi/mavae-gateway/internal/worker/cleanup"
	"github.com/hitoshi/mavae-gateway/internal/worker/warm"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELに合わせて作り直す
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
		slog.String("api_base_url", cfg.APIBaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// server はserveモードで組み立てた依存関係一式。
type server struct {
	handler     http.Handler
	registry    *store.Registry
	rateLimiter *middleware.RateLimiter
	warmer      *warm.Scheduler
}

// newServer は設定とDB接続から全依存関係をワイヤリングする。
// DBへの接続はここでは行わない。
func newServer(cfg *config.Config, db *sql.DB, log *slog.Logger) (*server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. 上流APIクライアント
	contentClient, err := apiclient.New(apiclient.Config{
		BaseURL:     cfg.APIBaseURL,
		BearerToken: cfg.BearerToken,
		AgentToken:  cfg.InfofiBearerToken,
		Timeout:     cfg.APITimeout,
		MaxAttempts: cfg.APIMaxAttempts,
		RetryDelay:  cfg.APIRetryDelay,
		Logger:      log,
		Metrics:     collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create content API client: %w", err)
	}
	studioClient, err := apiclient.New(apiclient.Config{
		BaseURL:     cfg.StudioAPIBaseURL,
		BearerToken: cfg.BearerToken,
		AgentToken:  cfg.InfofiBearerToken,
		Timeout:     cfg.APITimeout,
		MaxAttempts: cfg.APIMaxAttempts,
		RetryDelay:  cfg.APIRetryDelay,
		Logger:      log,
		Metrics:     collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create studio API client: %w", err)
	}

	// 3. 閲覧者ごとのストア
	sanitizer := security.NewContentSanitizer()
	storeOpts := store.Options{
		TTL:            cfg.CacheTTL,
		PageSize:       cfg.PageSize,
		MaxKeyedStores: cfg.MaxKeyedStores,
		Metrics:        collector,
		Logger:         log,
	}
	registry := store.NewRegistry(func(token string) *store.Views {
		return store.NewViews(contentClient.WithToken(token), studioClient.WithToken(token), sanitizer, storeOpts)
	}, cfg.ViewerIdleTTL)

	// 4. リポジトリと認証
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, contentClient, userRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// 5. メディア取り込み
	importer := media.NewImporter(security.NewSSRFGuard(), media.Config{
		Timeout: cfg.ImportTimeout,
		MaxSize: cfg.ImportMaxSize,
	})

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		HealthChecker: db,
		Gatherer:      reg,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Views:    registry,
		Tags:     contentClient,
		Importer: importer,
		Uploaders: func(token string) media.Uploader {
			return contentClient.WithToken(token)
		},
	})

	return &server{
		handler:     router,
		registry:    registry,
		rateLimiter: rateLimiter,
		warmer:      warm.NewScheduler(registry, cfg.WarmTopics, log, cfg.WarmMaxConcurrent),
	}, nil
}

// close はバックグラウンドのクリーンアップを停止する。
func (s *server) close() {
	s.registry.Stop()
	s.rateLimiter.Stop()
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーとキャッシュウォーマーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	srv, err := newServer(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.WarmInterval > 0 {
		go srv.warmer.Start(ctx, cfg.WarmInterval)
	} else {
		slog.Info("cache warmer disabled", slog.Duration("interval", cfg.WarmInterval))
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除を日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default())

	slog.Info("worker starting", slog.Duration("cleanup_interval", 24*time.Hour))
	job.Start(ctx, 24*time.Hour)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
