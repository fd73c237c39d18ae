// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// Reservation はユーザーによるスペースの時間制予約を表す。
// ExitTime がnullの間はOPEN、設定されるとCLOSEDとなり再オープンはしない。
type Reservation struct {
	ID     string
	UserID string
	// SpotID は割り当てスペース。スペース削除後は空文字になる（監査用に行は残す）。
	SpotID        string
	LotID         string
	LotName       string
	SpotLabel     string
	VehicleNumber string
	Notes         string
	EntryTime     time.Time
	ExitTime      null.Time
	TotalCost     null.Float
	CreatedAt     time.Time
}

// IsOpen は予約がまだ解放されていないかを返す。
func (r *Reservation) IsOpen() bool {
	return !r.ExitTime.Valid
}

// DurationHours はCLOSED予約の利用時間（時間単位）を返す。OPENの場合はfalseを返す。
func (r *Reservation) DurationHours() (float64, bool) {
	if !r.ExitTime.Valid {
		return 0, false
	}
	return r.ExitTime.Time.Sub(r.EntryTime).Hours(), true
}

// ActiveParking はOPEN予約に利用者と料金情報を結合した読み取りモデル。
type ActiveParking struct {
	ReservationID string
	UserID        string
	UserName      string
	UserPhone     string
	VehicleNumber string
	LotID         string
	LotName       string
	SpotLabel     string
	PricePerHour  float64
	EntryTime     time.Time
}

// DashboardStats は管理ダッシュボードの集計値。
type DashboardStats struct {
	TotalLots    int
	Available    int
	Occupied     int
	TotalRevenue float64
}

// LotUsage は駐車場ごとの予約件数と売上。
type LotUsage struct {
	LotID        string
	LotName      string
	Reservations int
	Revenue      float64
}

// DailyCount は日付ごとの入庫件数。
type DailyCount struct {
	Date  time.Time
	Count int
}
