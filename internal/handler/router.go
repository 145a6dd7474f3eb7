package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/presenze/internal/middleware"
)

// HealthChecker は永続化層の疎通確認のためのインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	AdminToken        string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder // nilの場合はステータスを記録しない

	// 署名台帳
	Ledger          LedgerService
	SignatureConfig SignatureHandlerConfig
	ExportRecorder  ExportRecorder

	// 運用
	HealthChecker  HealthChecker // nilの場合は常にok
	MetricsHandler http.Handler  // nilの場合は/metricsを公開しない
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → RealIP → SecurityHeaders → CORS → Logging → Metrics → Admin
//
// DELETE /api/signatures と GET /api/signatures/export は管理者のみ。
// POST /api/signatures にはクライアントIPごとのレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewAdminMiddleware(deps.AdminToken))

	sigHandler := NewSignatureHandler(deps.Ledger, deps.SignatureConfig, deps.ExportRecorder)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 署名台帳 ---
	r.Route("/api/signatures", func(r chi.Router) {
		r.Get("/", sigHandler.ListSignatures)

		// POST /api/signatures - 署名登録（レート制限を追加）
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.SignMiddleware()).Post("/", sigHandler.CreateSignature)
		} else {
			r.Post("/", sigHandler.CreateSignature)
		}

		// 管理者のみ
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePrivilege())

			r.Delete("/", sigHandler.ResetSignatures)
			r.Get("/export", sigHandler.ExportSignatures)
		})
	})

	return r
}

// healthHandler はヘルスチェックのハンドラーを返す。
// 永続化層に到達できない場合は503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
