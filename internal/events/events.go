// Package events は予約ライフサイクルのドメインイベントと配信を提供する。
// 配信は非同期で行い、予約処理が配信先の状態に左右されないようにする。
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// ルーティングキー
const (
	RKReservationOpened = "reservation.opened"
	RKReservationClosed = "reservation.closed"
)

// Event は配信可能なドメインイベント。
type Event interface {
	RoutingKey() string
}

// ReservationOpened はスペース割り当て完了時に発行される。
type ReservationOpened struct {
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	LotID         string    `json:"lot_id"`
	LotName       string    `json:"lot_name"`
	SpotNumber    string    `json:"spot_number"`
	VehicleNumber string    `json:"vehicle_number"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// RoutingKey はルーティングキーを返す。
func (ReservationOpened) RoutingKey() string { return RKReservationOpened }

// ReservationClosed は予約解放完了時に発行される。
type ReservationClosed struct {
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	LotName       string    `json:"lot_name"`
	SpotNumber    string    `json:"spot_number"`
	Cost          float64   `json:"cost"`
	DurationHours float64   `json:"duration_hours"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// RoutingKey はルーティングキーを返す。
func (ReservationClosed) RoutingKey() string { return RKReservationClosed }

// Decode はメッセージ本文をイベント型へ復元する。
func Decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("イベントの復元に失敗しました: %w", err)
	}
	return v, nil
}
