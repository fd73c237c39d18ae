package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/hitoshi/parkman/internal/model"
	"github.com/hitoshi/parkman/internal/repository"
)

func (s *state) lotWithCounts(lot model.Lot) model.LotWithCounts {
	lc := model.LotWithCounts{Lot: lot}
	for _, spot := range s.spots {
		if spot.LotID != lot.ID {
			continue
		}
		lc.TotalSpots++
		if spot.Status == model.SpotStatusAvailable {
			lc.AvailableSpots++
		} else {
			lc.OccupiedSpots++
		}
	}
	return lc
}

// ListLotsWithCounts は全駐車場を台数付きで作成順に返す。
func (s *Store) ListLotsWithCounts(ctx context.Context) ([]model.LotWithCounts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lots := make([]model.LotWithCounts, 0, len(s.state.lotOrder))
	for _, id := range s.state.lotOrder {
		lots = append(lots, s.state.lotWithCounts(s.state.lots[id]))
	}
	return lots, nil
}

// FindLotWithCounts は指定駐車場を台数付きで返す。見つからない場合はnilを返す。
func (s *Store) FindLotWithCounts(ctx context.Context, lotID string) (*model.LotWithCounts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lot, ok := s.state.lots[lotID]
	if !ok {
		return nil, nil
	}
	lc := s.state.lotWithCounts(lot)
	return &lc, nil
}

// DashboardStats は管理ダッシュボードの集計値を返す。
func (s *Store) DashboardStats(ctx context.Context) (*model.DashboardStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &model.DashboardStats{TotalLots: len(s.state.lots)}
	for _, spot := range s.state.spots {
		if spot.Status == model.SpotStatusAvailable {
			stats.Available++
		} else {
			stats.Occupied++
		}
	}
	for _, r := range s.state.reservations {
		if !r.IsOpen() {
			stats.TotalRevenue += r.TotalCost.Float64
		}
	}
	return stats, nil
}

// ListReservationsByUser はユーザーの予約を入庫日時の降順で返す。
func (s *Store) ListReservationsByUser(ctx context.Context, userID string) ([]*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	reservations := []*model.Reservation{}
	for _, r := range s.state.reservations {
		if r.UserID == userID {
			res := r
			reservations = append(reservations, &res)
		}
	}
	s.state.sortNewestFirst(reservations)
	return reservations, nil
}

// ListReservations は全予約を入庫日時の降順で返す。
func (s *Store) ListReservations(ctx context.Context) ([]*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	reservations := make([]*model.Reservation, 0, len(s.state.reservations))
	for _, r := range s.state.reservations {
		res := r
		reservations = append(reservations, &res)
	}
	s.state.sortNewestFirst(reservations)
	return reservations, nil
}

func (s *state) sortNewestFirst(reservations []*model.Reservation) {
	sort.Slice(reservations, func(i, j int) bool {
		a, b := reservations[i], reservations[j]
		if !a.EntryTime.Equal(b.EntryTime) {
			return a.EntryTime.After(b.EntryTime)
		}
		return s.resSeq[a.ID] > s.resSeq[b.ID]
	})
}

// ListUsersWithBookings は一般ユーザーを累計予約件数付きで登録日時の昇順に返す。
func (s *Store) ListUsersWithBookings(ctx context.Context) ([]model.UserBookings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, r := range s.state.reservations {
		counts[r.UserID]++
	}
	users := []model.UserBookings{}
	for _, u := range s.state.users {
		if u.Role != model.RoleUser {
			continue
		}
		users = append(users, model.UserBookings{User: u, TotalBookings: counts[u.ID]})
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// ListOpenReservations は利用中の予約を利用者・単価付きで入庫日時の昇順に返す。
func (s *Store) ListOpenReservations(ctx context.Context) ([]model.ActiveParking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []model.Reservation
	for _, r := range s.state.reservations {
		if r.IsOpen() {
			open = append(open, r)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].EntryTime.Equal(open[j].EntryTime) {
			return open[i].EntryTime.Before(open[j].EntryTime)
		}
		return s.state.resSeq[open[i].ID] < s.state.resSeq[open[j].ID]
	})

	parkings := make([]model.ActiveParking, 0, len(open))
	for _, r := range open {
		user := s.state.users[r.UserID]
		lot := s.state.lots[r.LotID]
		parkings = append(parkings, model.ActiveParking{
			ReservationID: r.ID,
			UserID:        r.UserID,
			UserName:      user.FullName,
			UserPhone:     user.Phone,
			VehicleNumber: r.VehicleNumber,
			LotID:         r.LotID,
			LotName:       r.LotName,
			SpotLabel:     r.SpotLabel,
			PricePerHour:  lot.PricePerHour,
			EntryTime:     r.EntryTime,
		})
	}
	return parkings, nil
}

// LotUsage は駐車場ごとの予約件数と売上を作成順に返す。
func (s *Store) LotUsage(ctx context.Context) ([]model.LotUsage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := make([]model.LotUsage, 0, len(s.state.lotOrder))
	for _, id := range s.state.lotOrder {
		u := model.LotUsage{LotID: id, LotName: s.state.lots[id].Name}
		for _, r := range s.state.reservations {
			if r.LotID != id {
				continue
			}
			u.Reservations++
			if r.TotalCost.Valid {
				u.Revenue += r.TotalCost.Float64
			}
		}
		usage = append(usage, u)
	}
	return usage, nil
}

// DailyEntries はfromからdays日分の日別入庫件数を返す。
func (s *Store) DailyEntries(ctx context.Context, from time.Time, days int, loc *time.Location) ([]model.DailyCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := repository.StartOfDay(from, loc)
	end := start.AddDate(0, 0, days)
	counts := make(map[string]int)
	for _, r := range s.state.reservations {
		if r.EntryTime.Before(start) || !r.EntryTime.Before(end) {
			continue
		}
		counts[r.EntryTime.In(loc).Format("2006-01-02")]++
	}
	return repository.FillDays(start, days, counts), nil
}

// Ping は常に成功する。
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// compile-time interface check
var _ repository.ReportReader = (*Store)(nil)
