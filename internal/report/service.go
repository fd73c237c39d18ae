// Package report は駐車場一覧・ダッシュボード・利用履歴などの集計ビューを提供する。
// 一覧・ダッシュボード・履歴は読み取りキャッシュを経由し、
// 利用中一覧と分析は時刻に依存するため毎回ストアから計算する。
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/hitoshi/parkman/internal/billing"
	"github.com/hitoshi/parkman/internal/cache"
	"github.com/hitoshi/parkman/internal/model"
	"github.com/hitoshi/parkman/internal/repository"
)

// AnalyticsDays は日別入庫件数の集計日数。
const AnalyticsDays = 7

// LotSummary は駐車場一覧の1行。
type LotSummary struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	PricePerHour float64 `json:"price_per_hour"`
	Capacity     int     `json:"capacity"`
	Available    int     `json:"available"`
	Occupied     int     `json:"occupied"`
	Total        int     `json:"total"`
}

// Dashboard は管理ダッシュボードの集計値。
type Dashboard struct {
	TotalLots    int     `json:"total_lots"`
	Available    int     `json:"available"`
	Occupied     int     `json:"occupied"`
	TotalRevenue float64 `json:"total_revenue"`
}

// HistoryEntry はユーザーの予約履歴の1行。
type HistoryEntry struct {
	ReservationID string     `json:"reservation_id"`
	LotName       string     `json:"lot_name"`
	SpotNumber    string     `json:"spot_number"`
	VehicleNumber string     `json:"vehicle_number"`
	Notes         string     `json:"notes,omitempty"`
	Status        string     `json:"status"`
	EntryTime     time.Time  `json:"entry_time"`
	ExitTime      null.Time  `json:"exit_time"`
	TotalCost     null.Float `json:"total_cost"`
	DurationHours null.Float `json:"duration_hours"`
}

// 予約状態
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// ReservationRecord は管理者向け予約一覧の1行。
type ReservationRecord struct {
	UserID string `json:"user_id"`
	HistoryEntry
}

// UserSummary は管理者向けユーザー一覧の1行。
type UserSummary struct {
	ID            string `json:"id"`
	FullName      string `json:"full_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	TotalBookings int    `json:"total_bookings"`
}

// UserDashboard は利用者向けダッシュボード。
// ActiveParkingは利用中の予約がない場合nullになる。
type UserDashboard struct {
	Lots          []LotSummary   `json:"lots"`
	Reservations  []HistoryEntry `json:"reservations"`
	ActiveParking *HistoryEntry  `json:"active_parking"`
}

// ActiveParking は利用中予約の1行。利用時間と料金は読み取り時点で計算する。
type ActiveParking struct {
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	UserName      string    `json:"user_name"`
	UserPhone     string    `json:"user_phone"`
	VehicleNumber string    `json:"vehicle_number"`
	LotName       string    `json:"lot_name"`
	SpotNumber    string    `json:"spot_number"`
	EntryTime     time.Time `json:"entry_time"`
	DurationHours float64   `json:"duration_hours"`
	RunningCost   float64   `json:"running_cost"`
}

// LotUsage は駐車場ごとの予約件数と売上。
type LotUsage struct {
	LotID        string  `json:"lot_id"`
	LotName      string  `json:"lot_name"`
	Reservations int     `json:"reservations"`
	Revenue      float64 `json:"revenue"`
}

// DailyEntry は日別入庫件数。
type DailyEntry struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Analytics は管理者向け分析データ。
type Analytics struct {
	LotUsage     []LotUsage   `json:"lot_usage"`
	DailyEntries []DailyEntry `json:"daily_entries"`
	Available    int          `json:"available"`
	Occupied     int          `json:"occupied"`
}

// Service は集計ビューを提供する。
type Service struct {
	reader repository.ReportReader
	cache  *cache.Cache
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// cacheがnilの場合は常にストアから読み取る。
func NewService(reader repository.ReportReader, c *cache.Cache, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		reader: reader,
		cache:  c,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// ListLots は全駐車場を空き・使用中台数付きで返す。
func (s *Service) ListLots(ctx context.Context) ([]LotSummary, error) {
	return cache.ReadThrough(ctx, s.cache, cache.KeyLots, s.LoadLots)
}

// LoadLots はキャッシュを経由せずに駐車場一覧を組み立てる。
func (s *Service) LoadLots(ctx context.Context) ([]LotSummary, error) {
	lots, err := s.reader.ListLotsWithCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("駐車場一覧の取得に失敗しました: %w", err)
	}
	out := make([]LotSummary, 0, len(lots))
	for _, l := range lots {
		out = append(out, LotSummary{
			ID:           l.ID,
			Name:         l.Name,
			Address:      l.Address,
			PricePerHour: l.PricePerHour,
			Capacity:     l.Capacity,
			Available:    l.AvailableSpots,
			Occupied:     l.OccupiedSpots,
			Total:        l.TotalSpots,
		})
	}
	return out, nil
}

// Dashboard は駐車場数・空き/使用中台数・確定売上の合計を返す。
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	return cache.ReadThrough(ctx, s.cache, cache.KeyDashboard, func(ctx context.Context) (*Dashboard, error) {
		stats, err := s.reader.DashboardStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("ダッシュボードの集計に失敗しました: %w", err)
		}
		return &Dashboard{
			TotalLots:    stats.TotalLots,
			Available:    stats.Available,
			Occupied:     stats.Occupied,
			TotalRevenue: billing.Round2(stats.TotalRevenue),
		}, nil
	})
}

// UserHistory はユーザーの予約を入庫日時の新しい順に返す。
func (s *Service) UserHistory(ctx context.Context, userID string) ([]HistoryEntry, error) {
	return cache.ReadThrough(ctx, s.cache, cache.HistoryKey(userID), func(ctx context.Context) ([]HistoryEntry, error) {
		reservations, err := s.reader.ListReservationsByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("予約履歴の取得に失敗しました: %w", err)
		}
		out := make([]HistoryEntry, 0, len(reservations))
		for _, r := range reservations {
			out = append(out, s.historyEntry(r))
		}
		return out, nil
	})
}

func (s *Service) historyEntry(r *model.Reservation) HistoryEntry {
	entry := HistoryEntry{
		ReservationID: r.ID,
		LotName:       r.LotName,
		SpotNumber:    r.SpotLabel,
		VehicleNumber: r.VehicleNumber,
		Notes:         r.Notes,
		Status:        StatusOpen,
		EntryTime:     r.EntryTime.In(s.loc),
	}
	if !r.IsOpen() {
		entry.Status = StatusClosed
		entry.ExitTime = null.TimeFrom(r.ExitTime.Time.In(s.loc))
		entry.TotalCost = r.TotalCost
		entry.DurationHours = null.FloatFrom(billing.DurationHours(r.EntryTime, r.ExitTime.Time))
	}
	return entry
}

// UserDashboard は駐車場一覧・予約履歴・利用中の予約をまとめて返す。
// 一覧と履歴はそれぞれの読み取りキャッシュを経由する。
func (s *Service) UserDashboard(ctx context.Context, userID string) (*UserDashboard, error) {
	lots, err := s.ListLots(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.UserHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	d := &UserDashboard{Lots: lots, Reservations: history}
	for i := range history {
		if history[i].Status == StatusOpen {
			active := history[i]
			d.ActiveParking = &active
			break
		}
	}
	return d, nil
}

// Users は一般ユーザーを累計予約件数付きで返す。件数は予約のたびに変わるためキャッシュしない。
func (s *Service) Users(ctx context.Context) ([]UserSummary, error) {
	users, err := s.reader.ListUsersWithBookings(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, UserSummary{
			ID:            u.ID,
			FullName:      u.FullName,
			Email:         u.Email,
			Phone:         u.Phone,
			TotalBookings: u.TotalBookings,
		})
	}
	return out, nil
}

// Reservations は全予約を入庫日時の新しい順に返す。
func (s *Service) Reservations(ctx context.Context) ([]ReservationRecord, error) {
	reservations, err := s.reader.ListReservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}
	out := make([]ReservationRecord, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, ReservationRecord{UserID: r.UserID, HistoryEntry: s.historyEntry(r)})
	}
	return out, nil
}

// ActiveParkings は利用中の予約を現在時刻での利用時間・料金付きで返す。
func (s *Service) ActiveParkings(ctx context.Context) ([]ActiveParking, error) {
	open, err := s.reader.ListOpenReservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("利用中予約の取得に失敗しました: %w", err)
	}
	now := s.now()
	out := make([]ActiveParking, 0, len(open))
	for _, p := range open {
		out = append(out, ActiveParking{
			ReservationID: p.ReservationID,
			UserID:        p.UserID,
			UserName:      p.UserName,
			UserPhone:     p.UserPhone,
			VehicleNumber: p.VehicleNumber,
			LotName:       p.LotName,
			SpotNumber:    p.SpotLabel,
			EntryTime:     p.EntryTime.In(s.loc),
			DurationHours: billing.DurationHours(p.EntryTime, now),
			RunningCost:   billing.RunningCost(p.EntryTime, now, p.PricePerHour),
		})
	}
	return out, nil
}

// Analytics は駐車場別の利用状況と直近7日間の日別入庫件数を返す。
func (s *Service) Analytics(ctx context.Context) (*Analytics, error) {
	usage, err := s.reader.LotUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("駐車場別利用状況の取得に失敗しました: %w", err)
	}
	from := s.now().In(s.loc).AddDate(0, 0, -(AnalyticsDays - 1))
	daily, err := s.reader.DailyEntries(ctx, from, AnalyticsDays, s.loc)
	if err != nil {
		return nil, fmt.Errorf("日別入庫件数の取得に失敗しました: %w", err)
	}
	stats, err := s.reader.DashboardStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("スペース集計に失敗しました: %w", err)
	}

	out := &Analytics{
		LotUsage:     make([]LotUsage, 0, len(usage)),
		DailyEntries: make([]DailyEntry, 0, len(daily)),
		Available:    stats.Available,
		Occupied:     stats.Occupied,
	}
	for _, u := range usage {
		out.LotUsage = append(out.LotUsage, LotUsage{
			LotID:        u.LotID,
			LotName:      u.LotName,
			Reservations: u.Reservations,
			Revenue:      billing.Round2(u.Revenue),
		})
	}
	for _, d := range daily {
		out.DailyEntries = append(out.DailyEntries, DailyEntry{
			Date:  d.Date.Format("2006-01-02"),
			Count: d.Count,
		})
	}
	return out, nil
}

// Ping はストアへの疎通を確認する。
func (s *Service) Ping(ctx context.Context) error {
	return s.reader.Ping(ctx)
}
