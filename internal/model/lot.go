// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Lot は駐車場を表す。
// Capacity は常に占有中スペース数以上に保たれる。
type Lot struct {
	ID           string
	Name         string
	Address      string
	PricePerHour float64
	Capacity     int
	// NextSpotNumber は次に払い出すスペース番号。削除後も巻き戻さない。
	NextSpotNumber int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LotWithCounts は駐車場とスペース集計を結合したモデル。
type LotWithCounts struct {
	Lot
	AvailableSpots int
	OccupiedSpots  int
	TotalSpots     int
}

// SpotStatus はスペースの状態を表す。AvailableとOccupiedの2状態のみ。
type SpotStatus string

const (
	// SpotStatusAvailable は空きスペース。
	SpotStatusAvailable SpotStatus = "available"
	// SpotStatusOccupied は使用中スペース。
	SpotStatusOccupied SpotStatus = "occupied"
)

// Spot は駐車場内の1区画を表す。
// LotID は所有元Lotへの外部キーであり、Lot自体は保持しない。
type Spot struct {
	ID        string
	LotID     string
	Number    int
	Status    SpotStatus
	CreatedAt time.Time
}

// Label は表示用のスペース番号（例: A12）を返す。
func (s *Spot) Label() string {
	return SpotLabel(s.Number)
}

// IsAvailable は空きスペースかどうかを返す。
func (s *Spot) IsAvailable() bool {
	return s.Status == SpotStatusAvailable
}

// SpotLabel はスペース番号から表示ラベルを生成する。
func SpotLabel(number int) string {
	return fmt.Sprintf("A%d", number)
}
