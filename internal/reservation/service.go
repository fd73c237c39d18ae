// Package reservation は駐車スペースの割り当てと解放を提供する。
// 割り当て・解放はそれぞれ単一トランザクションで実行し、
// コミット後にキャッシュ無効化・イベント発行・メトリクス記録を行う。
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/parkman/internal/billing"
	"github.com/hitoshi/parkman/internal/cache"
	"github.com/hitoshi/parkman/internal/events"
	"github.com/hitoshi/parkman/internal/metrics"
	"github.com/hitoshi/parkman/internal/model"
	"github.com/hitoshi/parkman/internal/repository"
	"github.com/hitoshi/parkman/internal/security"
)

const (
	// MaxVehicleNumberLength は車両番号の最大文字数。
	MaxVehicleNumberLength = 20
	// MaxNotesLength は備考の最大文字数。
	MaxNotesLength = 500
	// defaultRetryBackoff は割り当て再試行の基本待機時間。試行回数に比例して延ばす。
	defaultRetryBackoff = 20 * time.Millisecond
)

// Allocation は割り当て結果。
type Allocation struct {
	ReservationID string
	SpotNumber    string
	LotID         string
	LotName       string
	// VehicleNumber は正規化後の車両番号。
	VehicleNumber string
	EntryTime     time.Time
}

// Receipt は解放結果。
type Receipt struct {
	ReservationID string
	Cost          float64
	DurationHours float64
	EntryTime     time.Time
	ExitTime      time.Time
}

// Settings はServiceの動作設定。
type Settings struct {
	// Location は入出庫時刻を記録するタイムゾーン。nilの場合はUTC。
	Location *time.Location
	// MaxAttempts は割り当ての最大試行回数。1未満は1として扱う。
	MaxAttempts int
}

// Service は予約ライフサイクルのビジネスロジックを提供する。
type Service struct {
	gateway     repository.Gateway
	invalidator cache.Invalidator
	emitter     events.Emitter
	metrics     metrics.MetricsCollector
	sanitizer   security.TextSanitizer
	logger      *slog.Logger

	loc         *time.Location
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	gateway repository.Gateway,
	invalidator cache.Invalidator,
	emitter events.Emitter,
	mc metrics.MetricsCollector,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
	settings Settings,
) *Service {
	loc := settings.Location
	if loc == nil {
		loc = time.UTC
	}
	attempts := settings.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		gateway:     gateway,
		invalidator: invalidator,
		emitter:     emitter,
		metrics:     mc,
		sanitizer:   sanitizer,
		logger:      logger,
		loc:         loc,
		maxAttempts: attempts,
		backoff:     defaultRetryBackoff,
		now:         time.Now,
	}
}

// Allocate は駐車場の空きスペースのうち番号が最も小さいものをユーザーに割り当てる。
// スペースの競合や一時的なストア障害の場合はトランザクション全体を再試行し、
// 上限に達した場合はServiceUnavailableエラーを返す。
func (s *Service) Allocate(ctx context.Context, userID, lotID, vehicleNumber, notes string) (*Allocation, error) {
	start := time.Now()
	alloc, err := s.allocate(ctx, userID, lotID, vehicleNumber, notes)
	s.metrics.RecordAllocation(metrics.ResultOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	s.invalidator.AfterReservationChange(ctx, userID)
	s.emitter.Emit(events.ReservationOpened{
		ReservationID: alloc.ReservationID,
		UserID:        userID,
		LotID:         alloc.LotID,
		LotName:       alloc.LotName,
		SpotNumber:    alloc.SpotNumber,
		VehicleNumber: alloc.VehicleNumber,
		OccurredAt:    alloc.EntryTime,
	})
	s.logger.Info("スペースを割り当てました",
		slog.String("user_id", userID),
		slog.String("lot_id", lotID),
		slog.String("reservation_id", alloc.ReservationID),
		slog.String("spot", alloc.SpotNumber),
	)
	return alloc, nil
}

func (s *Service) allocate(ctx context.Context, userID, lotID, vehicleNumber, notes string) (*Allocation, error) {
	vehicle, err := s.cleanVehicleNumber(vehicleNumber)
	if err != nil {
		return nil, err
	}
	cleanNotes := s.sanitizer.Clean(notes)
	if utf8.RuneCountInString(cleanNotes) > MaxNotesLength {
		return nil, model.NewValidationError(fmt.Sprintf("備考は%d文字以内で入力してください", MaxNotesLength))
	}

	for attempt := 1; ; attempt++ {
		alloc, err := s.tryAllocate(ctx, userID, lotID, vehicle, cleanNotes)
		if err == nil {
			return alloc, nil
		}
		if !repository.IsRetryable(err) {
			return nil, err
		}
		if attempt >= s.maxAttempts {
			s.logger.Warn("スペース割り当ての再試行上限に達しました",
				slog.String("user_id", userID),
				slog.String("lot_id", lotID),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			return nil, model.NewServiceUnavailableError()
		}
		s.metrics.RecordAllocationRetry()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("スペース割り当ての再試行が中断されました: %w", ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
}

func (s *Service) tryAllocate(ctx context.Context, userID, lotID, vehicle, notes string) (*Allocation, error) {
	var alloc *Allocation
	err := s.gateway.WithTransaction(ctx, func(tx repository.Tx) error {
		user, err := tx.FindUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if user == nil {
			return model.NewUserNotFoundError()
		}

		// 共有ロックにより、割り当てのコミットまで駐車場の削除・収容台数変更を待たせる
		lot, err := tx.FindLot(ctx, lotID, repository.LockShare)
		if err != nil {
			return fmt.Errorf("駐車場の取得に失敗しました: %w", err)
		}
		if lot == nil {
			return model.NewLotNotFoundError(lotID)
		}

		open, err := tx.FindOpenReservationByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("利用中予約の確認に失敗しました: %w", err)
		}
		if open != nil {
			return model.NewActiveReservationExistsError()
		}

		spot, err := tx.FindAvailableSpot(ctx, lotID)
		if err != nil {
			return fmt.Errorf("空きスペースの検索に失敗しました: %w", err)
		}
		if spot == nil {
			return model.NewNoAvailableSpotsError()
		}
		if err := tx.ClaimSpot(ctx, spot.ID); err != nil {
			return err
		}

		entry := s.now().In(s.loc)
		r := &model.Reservation{
			ID:            uuid.New().String(),
			UserID:        userID,
			SpotID:        spot.ID,
			LotID:         lot.ID,
			LotName:       lot.Name,
			SpotLabel:     spot.Label(),
			VehicleNumber: vehicle,
			Notes:         notes,
			EntryTime:     entry,
			CreatedAt:     entry,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			if errors.Is(err, repository.ErrActiveReservationExists) {
				return model.NewActiveReservationExistsError()
			}
			return err
		}

		alloc = &Allocation{
			ReservationID: r.ID,
			SpotNumber:    r.SpotLabel,
			LotID:         lot.ID,
			LotName:       lot.Name,
			VehicleNumber: vehicle,
			EntryTime:     entry,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

func (s *Service) cleanVehicleNumber(raw string) (string, error) {
	vehicle := s.sanitizer.Clean(raw)
	if vehicle == "" {
		return "", model.NewInvalidVehicleError("車両番号は必須です")
	}
	if utf8.RuneCountInString(vehicle) > MaxVehicleNumberLength {
		return "", model.NewInvalidVehicleError(fmt.Sprintf("%d文字を超えています", MaxVehicleNumberLength))
	}
	return vehicle, nil
}

// Release はユーザーの予約を終了し、料金を確定してスペースを空きに戻す。
// 途中までコミットされた解放を二重に適用しないため再試行は行わない。
func (s *Service) Release(ctx context.Context, userID, reservationID string) (*Receipt, error) {
	var (
		receipt  *Receipt
		closedEv events.ReservationClosed
	)
	err := s.gateway.WithTransaction(ctx, func(tx repository.Tx) error {
		r, err := tx.FindReservation(ctx, reservationID, true)
		if err != nil {
			return fmt.Errorf("予約の取得に失敗しました: %w", err)
		}
		if r == nil || r.UserID != userID {
			return model.NewReservationNotFoundError(reservationID)
		}
		if !r.IsOpen() {
			return model.NewAlreadyReleasedError()
		}

		price, err := s.priceFor(ctx, tx, r)
		if err != nil {
			return err
		}

		exit := s.now().In(s.loc)
		cost := billing.Cost(r.EntryTime, exit, price)
		if err := tx.CloseReservation(ctx, r.ID, exit, cost); err != nil {
			if errors.Is(err, repository.ErrAlreadyClosed) {
				return model.NewAlreadyReleasedError()
			}
			return err
		}
		if r.SpotID != "" {
			if err := tx.ReleaseSpot(ctx, r.SpotID); err != nil {
				return err
			}
		}

		duration := billing.DurationHours(r.EntryTime, exit)
		receipt = &Receipt{
			ReservationID: r.ID,
			Cost:          cost,
			DurationHours: duration,
			EntryTime:     r.EntryTime,
			ExitTime:      exit,
		}
		closedEv = events.ReservationClosed{
			ReservationID: r.ID,
			UserID:        userID,
			LotName:       r.LotName,
			SpotNumber:    r.SpotLabel,
			Cost:          cost,
			DurationHours: duration,
			OccurredAt:    exit,
		}
		return nil
	})
	s.metrics.RecordRelease(metrics.ResultOf(err))
	if err != nil {
		return nil, err
	}

	s.metrics.RecordBilledAmount(receipt.Cost)
	s.invalidator.AfterReservationChange(ctx, userID)
	s.emitter.Emit(closedEv)
	s.logger.Info("予約を解放しました",
		slog.String("user_id", userID),
		slog.String("reservation_id", reservationID),
		slog.Float64("cost", receipt.Cost),
	)
	return receipt, nil
}

// priceFor は予約の解放時点の時間単価を返す。
// スペースが削除済みの場合は予約に記録された駐車場から取得し、
// 駐車場も削除済みの場合は利用者が解放できるよう0を返す。
func (s *Service) priceFor(ctx context.Context, tx repository.Tx, r *model.Reservation) (float64, error) {
	if r.SpotID != "" {
		lot, err := tx.FindLotForSpot(ctx, r.SpotID)
		if err != nil {
			return 0, fmt.Errorf("駐車場の取得に失敗しました: %w", err)
		}
		if lot != nil {
			return lot.PricePerHour, nil
		}
	}
	lot, err := tx.FindLot(ctx, r.LotID, repository.LockNone)
	if err != nil {
		return 0, fmt.Errorf("駐車場の取得に失敗しました: %w", err)
	}
	if lot == nil {
		s.logger.Warn("駐車場が削除済みのため料金0で予約を終了します",
			slog.String("reservation_id", r.ID),
			slog.String("lot_id", r.LotID),
		)
		return 0, nil
	}
	return lot.PricePerHour, nil
}
