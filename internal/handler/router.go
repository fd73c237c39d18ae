package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/parkman/internal/metrics"
	"github.com/hitoshi/parkman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector
	// MetricsHandler はGET /metricsで公開するハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler
	HealthChecker  HealthChecker
	RateLimiter    *middleware.RateLimiter

	ReservationService ReservationServiceInterface
	LotService         LotServiceInterface
	ReportService      ReportServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → SecurityHeaders → Recovery → Logging → Identity → RateLimit(General)
//
// /health と /metrics は識別ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))

	reservationHandler := NewReservationHandler(deps.ReservationService, logger)
	lotHandler := NewLotHandler(deps.LotService, logger)
	reportHandler := NewReportHandler(deps.ReportService, logger)

	// --- 識別不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker, logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 識別が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/lots", func(r chi.Router) {
			r.Get("/", reportHandler.ListLots)
			// POST /api/lots/{id}/reservations - 予約専用レート制限を追加
			r.With(deps.RateLimiter.BookingMiddleware()).Post("/{id}/reservations", reservationHandler.Allocate)
		})

		r.Put("/api/reservations/{id}/release", reservationHandler.Release)
		r.Get("/api/me/history", reportHandler.History)
		r.Get("/api/me/dashboard", reportHandler.UserDashboard)

		// 管理者向けルート
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Route("/lots", func(r chi.Router) {
				r.Post("/", lotHandler.CreateLot)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", lotHandler.GetLot)
					r.Patch("/", lotHandler.UpdateLot)
					r.Delete("/", lotHandler.DeleteLot)
				})
			})

			r.Get("/dashboard", reportHandler.Dashboard)
			r.Get("/active-parkings", reportHandler.ActiveParkings)
			r.Get("/analytics", reportHandler.Analytics)
			r.Get("/users", reportHandler.Users)
			r.Get("/reservations", reportHandler.Reservations)
		})
	})

	return r
}
