// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/parkman/internal/model"
)

// Gateway はトランザクション境界を提供する永続化ゲートウェイ。
type Gateway interface {
	// WithTransaction はfnを単一トランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	WithTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// LockMode はFindLotが取得する駐車場行のロック。
type LockMode int

const (
	// LockNone はロックを取得しない。
	LockNone LockMode = iota
	// LockShare は共有ロックを取得する。割り当て中の駐車場の削除・収容台数変更を待たせる。
	LockShare
	// LockUpdate は排他ロックを取得する。駐車場の変更・削除で使う。
	LockUpdate
)

// Tx はトランザクション内で利用できる操作。
// Find系は見つからない場合にnilを返す。
type Tx interface {
	// FindUser は指定IDのユーザーを取得する。
	FindUser(ctx context.Context, id string) (*model.User, error)

	// FindLot は指定IDの駐車場をlockで指定したロック付きで取得する。
	FindLot(ctx context.Context, id string, lock LockMode) (*model.Lot, error)
	// FindLotForSpot はスペースが属する駐車場を取得する。
	FindLotForSpot(ctx context.Context, spotID string) (*model.Lot, error)
	// InsertLot は駐車場を作成する。
	InsertLot(ctx context.Context, lot *model.Lot) error
	// UpdateLot は駐車場の属性・収容台数・採番位置を更新する。
	UpdateLot(ctx context.Context, lot *model.Lot) error
	// DeleteLot は駐車場を削除する。スペースはCASCADE削除される。
	DeleteLot(ctx context.Context, id string) error

	// FindAvailableSpot は番号が最も小さい空きスペースをロック付きで取得する。
	// 他トランザクションがロック中のスペースはスキップする。
	FindAvailableSpot(ctx context.Context, lotID string) (*model.Spot, error)
	// ClaimSpot は空きスペースを使用中にする。既に使用中の場合はErrSpotTakenを返す。
	ClaimSpot(ctx context.Context, spotID string) error
	// ReleaseSpot はスペースを空きに戻す。
	ReleaseSpot(ctx context.Context, spotID string) error
	// CountOccupied は駐車場内の使用中スペース数を返す。確保中のスペースがあればコミットを待つ。
	CountOccupied(ctx context.Context, lotID string) (int, error)
	// ListSpots は駐車場のスペースを番号の昇順でロック付きで返す。
	ListSpots(ctx context.Context, lotID string) ([]*model.Spot, error)
	// AddSpots はスペースをまとめて作成する。
	AddSpots(ctx context.Context, spots []*model.Spot) error
	// RemoveSpots は指定スペースを削除する。空きでないスペースが含まれる場合はErrSpotTakenを返す。
	RemoveSpots(ctx context.Context, spotIDs []string) error

	// FindOpenReservationByUser はユーザーの利用中予約を取得する。
	FindOpenReservationByUser(ctx context.Context, userID string) (*model.Reservation, error)
	// FindReservation は指定IDの予約を取得する。forUpdateがtrueの場合は行ロックを取得する。
	FindReservation(ctx context.Context, id string, forUpdate bool) (*model.Reservation, error)
	// InsertReservation は予約を作成する。
	InsertReservation(ctx context.Context, r *model.Reservation) error
	// CloseReservation は利用中予約を終了する。既に終了している場合はErrAlreadyClosedを返す。
	CloseReservation(ctx context.Context, id string, exitTime time.Time, cost float64) error
}

// ReportReader は集計・一覧表示用の読み取り専用インターフェース。
type ReportReader interface {
	// ListLotsWithCounts は全駐車場を空き・使用中台数付きで作成順に返す。
	ListLotsWithCounts(ctx context.Context) ([]model.LotWithCounts, error)
	// FindLotWithCounts は指定駐車場を台数付きで返す。見つからない場合はnilを返す。
	FindLotWithCounts(ctx context.Context, lotID string) (*model.LotWithCounts, error)
	// DashboardStats は管理ダッシュボードの集計値を返す。
	DashboardStats(ctx context.Context) (*model.DashboardStats, error)
	// ListReservationsByUser はユーザーの予約を入庫日時の降順で返す。
	ListReservationsByUser(ctx context.Context, userID string) ([]*model.Reservation, error)
	// ListOpenReservations は利用中の予約を利用者・単価付きで入庫日時の昇順に返す。
	ListOpenReservations(ctx context.Context) ([]model.ActiveParking, error)
	// LotUsage は駐車場ごとの予約件数と売上を返す。
	LotUsage(ctx context.Context) ([]model.LotUsage, error)
	// DailyEntries はfromからdays日分の日別入庫件数を返す。日付はlocで区切る。
	// 件数0の日も含める。
	DailyEntries(ctx context.Context, from time.Time, days int, loc *time.Location) ([]model.DailyCount, error)
	// ListUsersWithBookings は一般ユーザーを累計予約件数付きで登録順に返す。
	ListUsersWithBookings(ctx context.Context) ([]model.UserBookings, error)
	// ListReservations は全予約を入庫日時の降順で返す。
	ListReservations(ctx context.Context) ([]*model.Reservation, error)
	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}
