package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/parkman/internal/lot"
	"github.com/hitoshi/parkman/internal/model"
)

// LotServiceInterface は駐車場管理ハンドラーが必要とするサービスインターフェース。
type LotServiceInterface interface {
	CreateLot(ctx context.Context, input lot.LotInput) (*model.Lot, error)
	GetLot(ctx context.Context, lotID string) (*model.LotWithCounts, error)
	UpdateLot(ctx context.Context, lotID string, patch lot.LotPatch) (*model.Lot, error)
	DeleteLot(ctx context.Context, lotID string) error
}

// LotHandler は管理者向け駐車場管理のHTTPハンドラー。
type LotHandler struct {
	service LotServiceInterface
	logger  *slog.Logger
}

// NewLotHandler はLotHandlerを生成する。
func NewLotHandler(service LotServiceInterface, logger *slog.Logger) *LotHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LotHandler{service: service, logger: logger}
}

// createLotRequest は駐車場作成リクエストのボディ。
type createLotRequest struct {
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	PricePerHour float64 `json:"price_per_hour"`
	Capacity     int     `json:"capacity"`
}

// updateLotRequest は駐車場更新リクエストのボディ。省略した項目は変更しない。
type updateLotRequest struct {
	Name         *string  `json:"name"`
	Address      *string  `json:"address"`
	PricePerHour *float64 `json:"price_per_hour"`
	Capacity     *int     `json:"capacity"`
}

// lotResponse は駐車場情報のAPIレスポンス。
type lotResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	PricePerHour float64   `json:"price_per_hour"`
	Capacity     int       `json:"capacity"`
	Available    *int      `json:"available,omitempty"`
	Occupied     *int      `json:"occupied,omitempty"`
	Total        *int      `json:"total,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateLot は駐車場を作成する。
// POST /api/admin/lots
func (h *LotHandler) CreateLot(w http.ResponseWriter, r *http.Request) {
	var req createLotRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		handleServiceError(w, r, h.logger, apiErr)
		return
	}

	created, err := h.service.CreateLot(r.Context(), lot.LotInput{
		Name:         req.Name,
		Address:      req.Address,
		PricePerHour: req.PricePerHour,
		Capacity:     req.Capacity,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLotResponse(created))
}

// GetLot は駐車場をスペース集計付きで返す。
// GET /api/admin/lots/{id}
func (h *LotHandler) GetLot(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.GetLot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	resp := toLotResponse(&found.Lot)
	resp.Available = &found.AvailableSpots
	resp.Occupied = &found.OccupiedSpots
	resp.Total = &found.TotalSpots
	writeJSON(w, http.StatusOK, resp)
}

// UpdateLot は駐車場の属性・収容台数を更新する。
// PATCH /api/admin/lots/{id}
func (h *LotHandler) UpdateLot(w http.ResponseWriter, r *http.Request) {
	var req updateLotRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		handleServiceError(w, r, h.logger, apiErr)
		return
	}

	updated, err := h.service.UpdateLot(r.Context(), chi.URLParam(r, "id"), lot.LotPatch{
		Name:         req.Name,
		Address:      req.Address,
		PricePerHour: req.PricePerHour,
		Capacity:     req.Capacity,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toLotResponse(updated))
}

// DeleteLot は駐車場を削除する。
// DELETE /api/admin/lots/{id}
func (h *LotHandler) DeleteLot(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteLot(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toLotResponse(l *model.Lot) lotResponse {
	return lotResponse{
		ID:           l.ID,
		Name:         l.Name,
		Address:      l.Address,
		PricePerHour: l.PricePerHour,
		Capacity:     l.Capacity,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}
