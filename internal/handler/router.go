package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/articleboard/internal/metrics"
	"github.com/hitoshi/articleboard/internal/middleware"
	"github.com/hitoshi/articleboard/internal/security"
)

// HealthChecker はヘルスチェックで疎通確認する依存先。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsGatherer   prometheus.Gatherer
	HealthChecker     HealthChecker
	SessionResolver   middleware.SessionResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 記事
	ArticleService ArticleServiceInterface
	// TextRenderer はRSSの本文をHTML断片に変換する。nilの場合は既定の実装を使う。
	TextRenderer security.TextRendererService

	// ライブ接続
	Live LiveDeps

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したhttp.Handlerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	otelhttp → Recovery → SecurityHeaders → Logging → CORS
//	  → (API) Session → RateLimit(General) → CSRF → RateLimit(Write)
//
// 画面・認証ルート（/, /signin, /app, /auth/*）はセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	pageHandler := NewPageHandler(deps.SessionResolver)
	articleHandler := NewArticleHandler(deps.ArticleService, ArticleHandlerConfig{BaseURL: deps.AuthConfig.BaseURL, Renderer: deps.TextRenderer})
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	liveHandler := NewLiveHandler(deps.Live)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// 画面
	r.Get("/", pageHandler.SignIn)
	r.Get("/signin", pageHandler.SignIn)
	r.Get("/app", pageHandler.App)

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/session", authHandler.Session)
		r.Get("/me", authHandler.Me)
		r.With(middleware.NewCSRFMiddleware(deps.CSRFConfig)).Post("/refresh", authHandler.Refresh)
		r.With(middleware.NewCSRFMiddleware(deps.CSRFConfig)).Post("/logout", authHandler.Logout)
	})

	// ライブ接続（認証はビューのマウント時にセッションゲートが行う）
	r.Get("/api/live", liveHandler.ServeHTTP)

	// RSS は購読リーダーから取得されるため認証不要
	r.Get("/api/articles/feed.xml", articleHandler.Feed)

	// CSRFトークン取得
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// 記事管理
		r.Route("/api/articles", func(r chi.Router) {
			r.Get("/", articleHandler.ListArticles)

			// 書き込み系には専用レート制限を追加
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.WriteMiddleware())
				r.Post("/", articleHandler.CreateArticle)
				r.Put("/{id}", articleHandler.UpdateArticle)
				r.Delete("/{id}", articleHandler.DeleteArticle)
			})
		})

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
			r.Get("/{id}/avatar", userHandler.Avatar)
		})
	})

	return otelhttp.NewHandler(r, "articleboard",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return routeSpanName(r, req)
		}),
	)
}

// routeSpanName はスパン名を「メソッド ルートパターン」とする。
// スパンはルーティング前に開始されるため、パターンはルーティングツリーから引く。
// 一致するルートがない場合はメソッドのみを返す。
func routeSpanName(mux *chi.Mux, req *http.Request) string {
	pattern := mux.Find(chi.NewRouteContext(), req.Method, req.URL.Path)
	if pattern == "" {
		return req.Method
	}
	return req.Method + " " + pattern
}

// healthHandler はDB疎通を含むヘルスチェックのハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
