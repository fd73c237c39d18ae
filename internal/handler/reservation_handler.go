package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/parkman/internal/reservation"
)

// ReservationServiceInterface は予約ハンドラーが必要とするサービスインターフェース。
type ReservationServiceInterface interface {
	// Allocate は駐車場の空きスペースを1台分割り当てる。
	Allocate(ctx context.Context, userID, lotID, vehicleNumber, notes string) (*reservation.Allocation, error)
	// Release は予約を終了し料金を確定する。
	Release(ctx context.Context, userID, reservationID string) (*reservation.Receipt, error)
}

// ReservationHandler は予約（入庫・出庫）のHTTPハンドラー。
type ReservationHandler struct {
	service ReservationServiceInterface
	logger  *slog.Logger
}

// NewReservationHandler はReservationHandlerを生成する。
func NewReservationHandler(service ReservationServiceInterface, logger *slog.Logger) *ReservationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReservationHandler{service: service, logger: logger}
}

// allocateRequest はスペース予約リクエストのボディ。
type allocateRequest struct {
	VehicleNumber string `json:"vehicle_number"`
	Notes         string `json:"notes"`
}

// allocationResponse はスペース予約のAPIレスポンス。
type allocationResponse struct {
	ReservationID string    `json:"reservation_id"`
	LotID         string    `json:"lot_id"`
	LotName       string    `json:"lot_name"`
	SpotNumber    string    `json:"spot_number"`
	EntryTime     time.Time `json:"entry_time"`
}

// receiptResponse は出庫のAPIレスポンス。
type receiptResponse struct {
	ReservationID string    `json:"reservation_id"`
	Cost          float64   `json:"cost"`
	DurationHours float64   `json:"duration_hours"`
	EntryTime     time.Time `json:"entry_time"`
	ExitTime      time.Time `json:"exit_time"`
}

// Allocate はスペース予約を処理する。
// POST /api/lots/{id}/reservations
func (h *ReservationHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req allocateRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		handleServiceError(w, r, h.logger, apiErr)
		return
	}

	alloc, err := h.service.Allocate(r.Context(), userID, chi.URLParam(r, "id"), req.VehicleNumber, req.Notes)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, allocationResponse{
		ReservationID: alloc.ReservationID,
		LotID:         alloc.LotID,
		LotName:       alloc.LotName,
		SpotNumber:    alloc.SpotNumber,
		EntryTime:     alloc.EntryTime,
	})
}

// Release は出庫を処理する。
// PUT /api/reservations/{id}/release
func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	receipt, err := h.service.Release(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, receiptResponse{
		ReservationID: receipt.ReservationID,
		Cost:          receipt.Cost,
		DurationHours: receipt.DurationHours,
		EntryTime:     receipt.EntryTime,
		ExitTime:      receipt.ExitTime,
	})
}
