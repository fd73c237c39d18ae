// Package memrepo はrepositoryパッケージのインメモリ実装を提供する。
// 単一のロックでトランザクションを直列化し、エラー時はスナップショットへ巻き戻す。
// テストおよびデータベースを持たないローカル実行で使用する。
package memrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/hitoshi/parkman/internal/model"
	"github.com/hitoshi/parkman/internal/repository"
)

// Store はGatewayとReportReaderを兼ねるインメモリストア。
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	users        map[string]model.User
	lots         map[string]model.Lot
	lotOrder     []string
	spots        map[string]model.Spot
	reservations map[string]model.Reservation
	resSeq       map[string]int
	nextSeq      int
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{state: &state{
		users:        make(map[string]model.User),
		lots:         make(map[string]model.Lot),
		spots:        make(map[string]model.Spot),
		reservations: make(map[string]model.Reservation),
		resSeq:       make(map[string]int),
	}}
}

func (s *state) clone() *state {
	c := &state{
		users:        make(map[string]model.User, len(s.users)),
		lots:         make(map[string]model.Lot, len(s.lots)),
		lotOrder:     append([]string(nil), s.lotOrder...),
		spots:        make(map[string]model.Spot, len(s.spots)),
		reservations: make(map[string]model.Reservation, len(s.reservations)),
		resSeq:       make(map[string]int, len(s.resSeq)),
		nextSeq:      s.nextSeq,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.spots {
		c.spots[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.resSeq {
		c.resSeq[k] = v
	}
	return c
}

// PutUser はユーザーを登録する。認証基盤から同期されるユーザーの代わりに使う。
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

// WithTransaction はfnを排他的に実行し、エラー時は変更を破棄する。
func (s *Store) WithTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	tx := &memTx{st: s.state}
	if err := fn(tx); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// memTx はロック保持中のstateを直接操作するTx実装。
type memTx struct {
	st *state
}

func (t *memTx) FindUser(_ context.Context, id string) (*model.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (t *memTx) FindLot(_ context.Context, id string, _ repository.LockMode) (*model.Lot, error) {
	lot, ok := t.st.lots[id]
	if !ok {
		return nil, nil
	}
	return &lot, nil
}

func (t *memTx) FindLotForSpot(ctx context.Context, spotID string) (*model.Lot, error) {
	spot, ok := t.st.spots[spotID]
	if !ok {
		return nil, nil
	}
	return t.FindLot(ctx, spot.LotID, repository.LockNone)
}

func (t *memTx) InsertLot(_ context.Context, lot *model.Lot) error {
	if _, exists := t.st.lots[lot.ID]; exists {
		return fmt.Errorf("駐車場IDが重複しています: %s", lot.ID)
	}
	t.st.lots[lot.ID] = *lot
	t.st.lotOrder = append(t.st.lotOrder, lot.ID)
	return nil
}

func (t *memTx) UpdateLot(_ context.Context, lot *model.Lot) error {
	if _, exists := t.st.lots[lot.ID]; !exists {
		return fmt.Errorf("駐車場が見つかりません: %s", lot.ID)
	}
	t.st.lots[lot.ID] = *lot
	return nil
}

func (t *memTx) DeleteLot(_ context.Context, id string) error {
	if _, exists := t.st.lots[id]; !exists {
		return fmt.Errorf("駐車場が見つかりません: %s", id)
	}
	delete(t.st.lots, id)
	for i, lotID := range t.st.lotOrder {
		if lotID == id {
			t.st.lotOrder = append(t.st.lotOrder[:i:i], t.st.lotOrder[i+1:]...)
			break
		}
	}
	for spotID, spot := range t.st.spots {
		if spot.LotID == id {
			t.removeSpot(spotID)
		}
	}
	return nil
}

// removeSpot はスペースを削除し、参照する予約のSpotIDを空にする（ON DELETE SET NULL相当）。
func (t *memTx) removeSpot(spotID string) {
	delete(t.st.spots, spotID)
	for id, r := range t.st.reservations {
		if r.SpotID == spotID {
			r.SpotID = ""
			t.st.reservations[id] = r
		}
	}
}

func (t *memTx) FindAvailableSpot(_ context.Context, lotID string) (*model.Spot, error) {
	var best *model.Spot
	for _, spot := range t.st.spots {
		if spot.LotID != lotID || spot.Status != model.SpotStatusAvailable {
			continue
		}
		if best == nil || spot.Number < best.Number {
			s := spot
			best = &s
		}
	}
	return best, nil
}

func (t *memTx) ClaimSpot(_ context.Context, spotID string) error {
	spot, ok := t.st.spots[spotID]
	if !ok || spot.Status != model.SpotStatusAvailable {
		return fmt.Errorf("スペースの確保に失敗しました: %w", repository.ErrSpotTaken)
	}
	spot.Status = model.SpotStatusOccupied
	t.st.spots[spotID] = spot
	return nil
}

func (t *memTx) ReleaseSpot(_ context.Context, spotID string) error {
	spot, ok := t.st.spots[spotID]
	if !ok {
		return nil
	}
	spot.Status = model.SpotStatusAvailable
	t.st.spots[spotID] = spot
	return nil
}

func (t *memTx) CountOccupied(_ context.Context, lotID string) (int, error) {
	count := 0
	for _, spot := range t.st.spots {
		if spot.LotID == lotID && spot.Status == model.SpotStatusOccupied {
			count++
		}
	}
	return count, nil
}

func (t *memTx) ListSpots(_ context.Context, lotID string) ([]*model.Spot, error) {
	var spots []*model.Spot
	for _, spot := range t.st.spots {
		if spot.LotID == lotID {
			s := spot
			spots = append(spots, &s)
		}
	}
	sort.Slice(spots, func(i, j int) bool { return spots[i].Number < spots[j].Number })
	return spots, nil
}

func (t *memTx) AddSpots(_ context.Context, spots []*model.Spot) error {
	for _, spot := range spots {
		if _, exists := t.st.lots[spot.LotID]; !exists {
			return fmt.Errorf("駐車場が見つかりません: %s", spot.LotID)
		}
		for _, existing := range t.st.spots {
			if existing.LotID == spot.LotID && existing.Number == spot.Number {
				return fmt.Errorf("スペース番号が重複しています: %s", spot.Label())
			}
		}
		t.st.spots[spot.ID] = *spot
	}
	return nil
}

func (t *memTx) RemoveSpots(_ context.Context, spotIDs []string) error {
	for _, id := range spotIDs {
		spot, ok := t.st.spots[id]
		if !ok || spot.Status != model.SpotStatusAvailable {
			return fmt.Errorf("スペースの削除に失敗しました: %w", repository.ErrSpotTaken)
		}
	}
	for _, id := range spotIDs {
		t.removeSpot(id)
	}
	return nil
}

func (t *memTx) FindOpenReservationByUser(_ context.Context, userID string) (*model.Reservation, error) {
	for _, r := range t.st.reservations {
		if r.UserID == userID && r.IsOpen() {
			res := r
			return &res, nil
		}
	}
	return nil, nil
}

func (t *memTx) FindReservation(_ context.Context, id string, _ bool) (*model.Reservation, error) {
	r, ok := t.st.reservations[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *memTx) InsertReservation(_ context.Context, r *model.Reservation) error {
	if _, ok := t.st.users[r.UserID]; !ok {
		return fmt.Errorf("ユーザーが見つかりません: %s", r.UserID)
	}
	if r.IsOpen() {
		for _, existing := range t.st.reservations {
			if !existing.IsOpen() {
				continue
			}
			if existing.UserID == r.UserID {
				return fmt.Errorf("予約の作成に失敗しました: %w", repository.ErrActiveReservationExists)
			}
			if r.SpotID != "" && existing.SpotID == r.SpotID {
				return fmt.Errorf("予約の作成に失敗しました: %w", repository.ErrSpotTaken)
			}
		}
	}
	t.st.reservations[r.ID] = *r
	t.st.nextSeq++
	t.st.resSeq[r.ID] = t.st.nextSeq
	return nil
}

func (t *memTx) CloseReservation(_ context.Context, id string, exitTime time.Time, cost float64) error {
	r, ok := t.st.reservations[id]
	if !ok || !r.IsOpen() {
		return fmt.Errorf("予約の終了に失敗しました: %w", repository.ErrAlreadyClosed)
	}
	r.ExitTime = null.TimeFrom(exitTime)
	r.TotalCost = null.FloatFrom(cost)
	t.st.reservations[id] = r
	return nil
}

// compile-time interface check
var (
	_ repository.Gateway = (*Store)(nil)
	_ repository.Tx      = (*memTx)(nil)
)
