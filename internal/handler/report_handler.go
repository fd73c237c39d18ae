package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/parkman/internal/report"
)

// ReportServiceInterface は集計ハンドラーが必要とするサービスインターフェース。
type ReportServiceInterface interface {
	ListLots(ctx context.Context) ([]report.LotSummary, error)
	Dashboard(ctx context.Context) (*report.Dashboard, error)
	UserHistory(ctx context.Context, userID string) ([]report.HistoryEntry, error)
	ActiveParkings(ctx context.Context) ([]report.ActiveParking, error)
	Analytics(ctx context.Context) (*report.Analytics, error)
	UserDashboard(ctx context.Context, userID string) (*report.UserDashboard, error)
	Users(ctx context.Context) ([]report.UserSummary, error)
	Reservations(ctx context.Context) ([]report.ReservationRecord, error)
}

// ReportHandler は一覧・履歴・管理者向け集計のHTTPハンドラー。
type ReportHandler struct {
	service ReportServiceInterface
	logger  *slog.Logger
}

// NewReportHandler はReportHandlerを生成する。
func NewReportHandler(service ReportServiceInterface, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{service: service, logger: logger}
}

// lotListResponse は駐車場一覧のAPIレスポンス。
type lotListResponse struct {
	Lots []report.LotSummary `json:"lots"`
}

// historyResponse は利用履歴のAPIレスポンス。
type historyResponse struct {
	Reservations []report.HistoryEntry `json:"reservations"`
}

// activeParkingsResponse は利用中一覧のAPIレスポンス。
type activeParkingsResponse struct {
	Parkings []report.ActiveParking `json:"parkings"`
}

// userListResponse はユーザー一覧のAPIレスポンス。
type userListResponse struct {
	Users []report.UserSummary `json:"users"`
}

// reservationListResponse は全予約一覧のAPIレスポンス。
type reservationListResponse struct {
	Reservations []report.ReservationRecord `json:"reservations"`
}

// ListLots は駐車場一覧を返す。
// GET /api/lots
func (h *ReportHandler) ListLots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.service.ListLots(r.Context())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lotListResponse{Lots: lots})
}

// History はログインユーザーの予約履歴を返す。
// GET /api/me/history
func (h *ReportHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.UserHistory(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Reservations: entries})
}

// Dashboard は管理ダッシュボードの集計値を返す。
// GET /api/admin/dashboard
func (h *ReportHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ActiveParkings は利用中の予約一覧を返す。
// GET /api/admin/active-parkings
func (h *ReportHandler) ActiveParkings(w http.ResponseWriter, r *http.Request) {
	parkings, err := h.service.ActiveParkings(r.Context())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, activeParkingsResponse{Parkings: parkings})
}

// Analytics は駐車場別利用状況と日別入庫件数を返す。
// GET /api/admin/analytics
func (h *ReportHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Analytics(r.Context())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UserDashboard は駐車場一覧・予約履歴・利用中の予約をまとめて返す。
// GET /api/me/dashboard
func (h *ReportHandler) UserDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	d, err := h.service.UserDashboard(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Users は一般ユーザーを累計予約件数付きで返す。
// GET /api/admin/users
func (h *ReportHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Users(r.Context())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userListResponse{Users: users})
}

// Reservations は全予約を返す。
// GET /api/admin/reservations
func (h *ReportHandler) Reservations(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Reservations(r.Context())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reservationListResponse{Reservations: records})
}
