package lot

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/hitoshi/parkman/internal/model"
	"github.com/hitoshi/parkman/internal/repository"
	"github.com/hitoshi/parkman/internal/repository/memrepo"
	"github.com/hitoshi/parkman/internal/security"
)

type mockInvalidator struct {
	lotCalls int
}

func (m *mockInvalidator) AfterReservationChange(context.Context, string) {}
func (m *mockInvalidator) AfterLotChange(context.Context)                 { m.lotCalls++ }

func newTestService(t *testing.T) (*Service, *memrepo.Store, *mockInvalidator) {
	t.Helper()
	store := memrepo.New()
	inv := &mockInvalidator{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := NewService(store, store, inv, security.NewTextSanitizer(), logger)
	return svc, store, inv
}

func listSpots(t *testing.T, store *memrepo.Store, lotID string) []*model.Spot {
	t.Helper()
	var spots []*model.Spot
	err := store.WithTransaction(context.Background(), func(tx repository.Tx) error {
		var err error
		spots, err = tx.ListSpots(context.Background(), lotID)
		return err
	})
	if err != nil {
		t.Fatalf("スペース一覧の取得に失敗: %v", err)
	}
	return spots
}

func labels(spots []*model.Spot) []string {
	out := make([]string, 0, len(spots))
	for _, sp := range spots {
		out = append(out, sp.Label())
	}
	return out
}

func occupy(t *testing.T, store *memrepo.Store, lotID, label string) {
	t.Helper()
	for _, sp := range listSpots(t, store, lotID) {
		if sp.Label() != label {
			continue
		}
		err := store.WithTransaction(context.Background(), func(tx repository.Tx) error {
			return tx.ClaimSpot(context.Background(), sp.ID)
		})
		if err != nil {
			t.Fatalf("スペースの確保に失敗: %v", err)
		}
		return
	}
	t.Fatalf("スペース %s が見つかりません", label)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestService_CreateLot(t *testing.T) {
	svc, store, inv := newTestService(t)

	lot, err := svc.CreateLot(context.Background(), LotInput{
		Name: " Central <b>Plaza</b> ", Address: "MG Road", PricePerHour: 50, Capacity: 3,
	})
	if err != nil {
		t.Fatalf("駐車場の作成に失敗: %v", err)
	}
	if lot.Name != "Central Plaza" {
		t.Errorf("駐車場名: got %q, want %q", lot.Name, "Central Plaza")
	}
	if lot.NextSpotNumber != 4 {
		t.Errorf("採番位置: got %d, want 4", lot.NextSpotNumber)
	}

	spots := listSpots(t, store, lot.ID)
	if got := labels(spots); !equalStrings(got, []string{"A1", "A2", "A3"}) {
		t.Errorf("スペース: got %v", got)
	}
	for _, sp := range spots {
		if !sp.IsAvailable() {
			t.Errorf("%s が空きではありません", sp.Label())
		}
	}
	if inv.lotCalls != 1 {
		t.Errorf("キャッシュ無効化回数: got %d, want 1", inv.lotCalls)
	}
}

func TestService_CreateLot_ZeroCapacity(t *testing.T) {
	svc, store, _ := newTestService(t)

	lot, err := svc.CreateLot(context.Background(), LotInput{Name: "Tiny", Address: "x", PricePerHour: 10})
	if err != nil {
		t.Fatalf("駐車場の作成に失敗: %v", err)
	}
	if n := len(listSpots(t, store, lot.ID)); n != 0 {
		t.Errorf("スペース数: got %d, want 0", n)
	}
}

func TestService_CreateLot_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input LotInput
		code  string
	}{
		{"名前なし", LotInput{Address: "x", PricePerHour: 10, Capacity: 1}, model.ErrCodeInvalidInput},
		{"住所なし", LotInput{Name: "x", PricePerHour: 10, Capacity: 1}, model.ErrCodeInvalidInput},
		{"単価0", LotInput{Name: "x", Address: "x", PricePerHour: 0, Capacity: 1}, model.ErrCodeInvalidPrice},
		{"単価負", LotInput{Name: "x", Address: "x", PricePerHour: -5, Capacity: 1}, model.ErrCodeInvalidPrice},
		{"単価NaN", LotInput{Name: "x", Address: "x", PricePerHour: math.NaN(), Capacity: 1}, model.ErrCodeInvalidPrice},
		{"台数負", LotInput{Name: "x", Address: "x", PricePerHour: 10, Capacity: -1}, model.ErrCodeInvalidCapacity},
		{"台数上限超過", LotInput{Name: "x", Address: "x", PricePerHour: 10, Capacity: MaxLotCapacity + 1}, model.ErrCodeInvalidCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, inv := newTestService(t)
			_, err := svc.CreateLot(context.Background(), tt.input)
			if !model.IsValidation(err) || !model.HasCode(err, tt.code) {
				t.Fatalf("%s を期待しましたが %v", tt.code, err)
			}
			lots, _ := store.ListLotsWithCounts(context.Background())
			if len(lots) != 0 {
				t.Errorf("検証エラーで駐車場が作成されています: %d", len(lots))
			}
			if inv.lotCalls != 0 {
				t.Error("検証エラーでキャッシュ無効化が行われています")
			}
		})
	}
}

func TestService_ResizeLot_NumberingContinuesAfterShrink(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lot, err := svc.CreateLot(ctx, LotInput{Name: "x", Address: "x", PricePerHour: 10, Capacity: 5})
	if err != nil {
		t.Fatalf("駐車場の作成に失敗: %v", err)
	}

	if _, err := svc.ResizeLot(ctx, lot.ID, 3); err != nil {
		t.Fatalf("縮小に失敗: %v", err)
	}
	if got := labels(listSpots(t, store, lot.ID)); !equalStrings(got, []string{"A1", "A2", "A3"}) {
		t.Errorf("縮小後のスペース: got %v", got)
	}

	resized, err := svc.ResizeLot(ctx, lot.ID, 5)
	if err != nil {
		t.Fatalf("拡張に失敗: %v", err)
	}
	if got := labels(listSpots(t, store, lot.ID)); !equalStrings(got, []string{"A1", "A2", "A3", "A6", "A7"}) {
		t.Errorf("拡張後のスペース: got %v", got)
	}
	if resized.Capacity != 5 || resized.NextSpotNumber != 8 {
		t.Errorf("駐車場: got capacity=%d next=%d", resized.Capacity, resized.NextSpotNumber)
	}
}

func TestService_ResizeLot_KeepsOccupiedSpots(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lot, err := svc.CreateLot(ctx, LotInput{Name: "x", Address: "x", PricePerHour: 10, Capacity: 5})
	if err != nil {
		t.Fatalf("駐車場の作成に失敗: %v", err)
	}
	occupy(t, store, lot.ID, "A5")
	occupy(t, store, lot.ID, "A1")

	if _, err := svc.ResizeLot(ctx, lot.ID, 2); err != nil {
		t.Fatalf("縮小に失敗: %v", err)
	}
	spots := listSpots(t, store, lot.ID)
	if got := labels(spots); !equalStrings(got, []string{"A1", "A5"}) {
		t.Errorf("縮小後のスペース: got %v", got)
	}
	for _, sp := range spots {
		if sp.IsAvailable() {
			t.Errorf("%s は使用中のままであるべきです", sp.Label())
		}
	}

	_, err = svc.ResizeLot(ctx, lot.ID, 1)
	if !model.HasCode(err, model.ErrCodeCapacityBelowOccupied) {
		t.Fatalf("CAPACITY_BELOW_OCCUPIED を期待しましたが %v", err)
	}
	if n := len(listSpots(t, store, lot.ID)); n != 2 {
		t.Errorf("拒否後のスペース数: got %d, want 2", n)
	}
}

func TestService_ResizeLot_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ResizeLot(context.Background(), "missing", 3)
	if !model.HasCode(err, model.ErrCodeLotNotFound) {
		t.Fatalf("LOT_NOT_FOUND を期待しましたが %v", err)
	}
}

func TestService_UpdateLot(t *testing.T) {
	svc, store, inv := newTestService(t)
	ctx := context.Background()
	lot, err := svc.CreateLot(ctx, LotInput{Name: "Old", Address: "x", PricePerHour: 10, Capacity: 2})
	if err != nil {
		t.Fatalf("駐車場の作成に失敗: %v", err)
	}

	name := "New"
	price := 25.5
	capacity := 4
	updated, err := svc.UpdateLot(ctx, lot.ID, LotPatch{Name: &name, PricePerHour: &price, Capacity: &capacity})
	if err != nil {
		t.Fatalf("更新に失敗: %v", err)
	}
	if updated.Name != "New" || updated.PricePerHour != 25.5 || updated.Address != "x" {
		t.Errorf("更新結果: got %+v", updated)
	}
	got, err := svc.GetLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("取得に失敗: %v", err)
	}
	if got.TotalSpots != 4 || got.AvailableSpots != 4 || got.Capacity != 4 {
		t.Errorf("集計: got %+v", got)
	}
	if n := len(listSpots(t, store, lot.ID)); n != 4 {
		t.Errorf("スペース数: got %d, want 4", n)
	}
	if inv.lotCalls != 2 {
		t.Errorf("キャッシュ無効化回数: got %d, want 2", inv.lotCalls)
	}
}

func TestService_UpdateLot_RejectsInvalidPatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	lot, err := svc.CreateLot(ctx, LotInput{Name: "Old", Address: "x", PricePerHour: 10, Capacity: 2})
	if err != nil {
		t.Fatalf("駐車場の作成に失敗: %v", err)
	}

	if _, err := svc.UpdateLot(ctx, lot.ID, LotPatch{}); !model.IsValidation(err) {
		t.Errorf("空の更新: ValidationErrorを期待しましたが %v", err)
	}
	price := 0.0
	if _, err := svc.UpdateLot(ctx, lot.ID, LotPatch{PricePerHour: &price}); !model.HasCode(err, model.ErrCodeInvalidPrice) {
		t.Errorf("単価0: INVALID_PRICE を期待しましたが %v", err)
	}
	blank := "  "
	if _, err := svc.UpdateLot(ctx, lot.ID, LotPatch{Name: &blank}); !model.IsValidation(err) {
		t.Errorf("空の名前: ValidationErrorを期待しましたが %v", err)
	}
}

func TestService_DeleteLot_RejectsOccupied(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	lot, err := svc.CreateLot(ctx, LotInput{Name: "x", Address: "x", PricePerHour: 10, Capacity: 2})
	if err != nil {
		t.Fatalf("駐車場の作成に失敗: %v", err)
	}
	occupy(t, store, lot.ID, "A2")

	err = svc.DeleteLot(ctx, lot.ID)
	if !model.HasCode(err, model.ErrCodeLotOccupied) || !model.IsValidation(err) {
		t.Fatalf("LOT_OCCUPIED を期待しましたが %v", err)
	}
	if _, err := svc.GetLot(ctx, lot.ID); err != nil {
		t.Errorf("拒否後も駐車場が残っているべきです: %v", err)
	}
}

func TestService_DeleteLot_PreservesHistory(t *testing.T) {
	svc, store, inv := newTestService(t)
	ctx := context.Background()
	store.PutUser(model.User{ID: "user-1", LoginName: "u1", Email: "u1@example.com", Role: model.RoleUser})
	lot, err := svc.CreateLot(ctx, LotInput{Name: "Gone", Address: "x", PricePerHour: 10, Capacity: 1})
	if err != nil {
		t.Fatalf("駐車場の作成に失敗: %v", err)
	}
	spot := listSpots(t, store, lot.ID)[0]
	entry := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	err = store.WithTransaction(ctx, func(tx repository.Tx) error {
		return tx.InsertReservation(ctx, &model.Reservation{
			ID: "r-1", UserID: "user-1", SpotID: spot.ID, LotID: lot.ID, LotName: lot.Name,
			SpotLabel: spot.Label(), VehicleNumber: "KA01", EntryTime: entry,
			ExitTime: null.TimeFrom(entry.Add(time.Hour)), TotalCost: null.FloatFrom(10),
		})
	})
	if err != nil {
		t.Fatalf("予約の作成に失敗: %v", err)
	}

	if err := svc.DeleteLot(ctx, lot.ID); err != nil {
		t.Fatalf("削除に失敗: %v", err)
	}
	if _, err := svc.GetLot(ctx, lot.ID); !model.IsNotFound(err) {
		t.Errorf("削除後: NotFoundを期待しましたが %v", err)
	}
	history, err := store.ListReservationsByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("履歴の取得に失敗: %v", err)
	}
	if len(history) != 1 || history[0].LotName != "Gone" || history[0].SpotLabel != "A1" || history[0].SpotID != "" {
		t.Errorf("監査用の予約が保持されていません: %+v", history)
	}
	if inv.lotCalls != 2 {
		t.Errorf("キャッシュ無効化回数: got %d, want 2", inv.lotCalls)
	}
}

func TestService_DeleteLot_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.DeleteLot(context.Background(), "missing"); !model.IsNotFound(err) {
		t.Fatalf("NotFoundを期待しましたが %v", err)
	}
}
