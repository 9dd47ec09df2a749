package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/mavae-gateway/internal/metrics"
	"github.com/hitoshi/mavae-gateway/internal/middleware"
)

// HealthChecker はDBの疎通確認に必要なインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 閲覧者ごとのストア（store.Registry）
	Views interface {
		ViewsProvider
		ViewerForgetter
	}

	// トピック一覧
	Tags TagLister

	// ファイル取り込み
	Importer  MediaImporter
	Uploaders UploaderFactory
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → CORS → SecurityHeaders → Recovery → Logging → Session(任意) → RateLimit(General)
//
// 閲覧者必須のルートには RequireViewer → CSRF → RateLimit(Mutation) を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.Views, deps.AuthConfig)
	contentHandler := NewContentHandler(deps.Views)
	galleryHandler := NewGalleryHandler(deps.Views)
	tagHandler := NewTagHandler(deps.Tags)
	filesHandler := NewFilesHandler(deps.Importer, deps.Uploaders)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 認証ルート（OAuthフロー）
		r.Route("/auth", func(r chi.Router) {
			r.Get("/google/login", authHandler.Login)
			r.Get("/google/callback", authHandler.Callback)
			r.Get("/me", authHandler.Me)
			r.With(middleware.NewCSRFMiddleware(deps.CSRF)).Post("/logout", authHandler.Logout)
		})

		r.Route("/api", func(r chi.Router) {
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

			// --- 匿名でも閲覧できるルート ---
			r.Get("/feed", contentHandler.Feed)
			r.Get("/topics", tagHandler.List)
			r.Get("/topics/{tag}", contentHandler.Topic)
			r.Get("/gallery/models", galleryHandler.Models)
			r.Get("/gallery/workflows", galleryHandler.Workflows)
			r.Get("/workflows/{id}", galleryHandler.Workflow)
			r.Route("/users/{did}", func(r chi.Router) {
				r.Get("/", galleryHandler.User)
				r.Get("/contents", contentHandler.UserContents)
				r.Get("/models", galleryHandler.UserModels)
				r.Get("/workflows", galleryHandler.UserWorkflows)
			})

			// --- 閲覧者必須のルート ---
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireViewer)
				r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

				r.Get("/liked", contentHandler.Liked)

				r.Group(func(r chi.Router) {
					r.Use(deps.RateLimiter.MutationMiddleware())

					r.Post("/contents/{id}/like", contentHandler.Like)
					r.Delete("/contents/{id}/like", contentHandler.Unlike)
					r.Put("/contents/{id}/visibility", contentHandler.SetVisibility)

					r.Post("/models/{id}/like", galleryHandler.LikeModel)
					r.Delete("/models/{id}/like", galleryHandler.UnlikeModel)

					r.Post("/workflows/{id}/like", galleryHandler.LikeWorkflow)
					r.Delete("/workflows/{id}/like", galleryHandler.UnlikeWorkflow)

					r.Post("/files/import", filesHandler.Import)
				})
			})
		})
	})

	return r
}

// healthHandler はDBの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}
