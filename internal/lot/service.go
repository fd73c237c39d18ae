// Package lot は駐車場とスペースのプロビジョニングを提供する。
package lot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/parkman/internal/cache"
	"github.com/hitoshi/parkman/internal/model"
	"github.com/hitoshi/parkman/internal/repository"
	"github.com/hitoshi/parkman/internal/security"
)

const (
	// MaxLotCapacity は1駐車場あたりの最大収容台数。
	MaxLotCapacity = 1000
	// MaxNameLength は駐車場名の最大文字数。
	MaxNameLength = 100
	// MaxAddressLength は住所の最大文字数。
	MaxAddressLength = 255
)

// LotInput は駐車場作成時の入力値。
type LotInput struct {
	Name         string
	Address      string
	PricePerHour float64
	Capacity     int
}

// LotPatch は駐車場更新時の入力値。nilのフィールドは変更しない。
type LotPatch struct {
	Name         *string
	Address      *string
	PricePerHour *float64
	Capacity     *int
}

// Service は駐車場管理のビジネスロジックを提供する。
type Service struct {
	gateway     repository.Gateway
	reader      repository.ReportReader
	invalidator cache.Invalidator
	sanitizer   security.TextSanitizer
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	gateway repository.Gateway,
	reader repository.ReportReader,
	invalidator cache.Invalidator,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) *Service {
	return &Service{
		gateway:     gateway,
		reader:      reader,
		invalidator: invalidator,
		sanitizer:   sanitizer,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateLot は駐車場とcapacity台分の空きスペース（A1..AN）を1トランザクションで作成する。
func (s *Service) CreateLot(ctx context.Context, input LotInput) (*model.Lot, error) {
	name, err := s.cleanText("駐車場名", input.Name, MaxNameLength)
	if err != nil {
		return nil, err
	}
	address, err := s.cleanText("住所", input.Address, MaxAddressLength)
	if err != nil {
		return nil, err
	}
	if err := validatePrice(input.PricePerHour); err != nil {
		return nil, err
	}
	if err := validateCapacity(input.Capacity); err != nil {
		return nil, err
	}

	now := s.now()
	lot := &model.Lot{
		ID:             uuid.New().String(),
		Name:           name,
		Address:        address,
		PricePerHour:   input.PricePerHour,
		Capacity:       input.Capacity,
		NextSpotNumber: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.gateway.WithTransaction(ctx, func(tx repository.Tx) error {
		if err := tx.InsertLot(ctx, lot); err != nil {
			return fmt.Errorf("駐車場の作成に失敗しました: %w", err)
		}
		return s.appendSpots(ctx, tx, lot, input.Capacity)
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	s.invalidator.AfterLotChange(ctx)
	s.logger.Info("駐車場を作成しました",
		slog.String("lot_id", lot.ID),
		slog.Int("capacity", lot.Capacity),
	)
	return lot, nil
}

// ResizeLot は駐車場の収容台数を変更する。
// 使用中スペース数を下回る変更は拒否し、縮小時は番号の大きい空きスペースから削除する。
func (s *Service) ResizeLot(ctx context.Context, lotID string, newCapacity int) (*model.Lot, error) {
	return s.UpdateLot(ctx, lotID, LotPatch{Capacity: &newCapacity})
}

// UpdateLot は駐車場の属性と収容台数を1トランザクションで更新する。
func (s *Service) UpdateLot(ctx context.Context, lotID string, patch LotPatch) (*model.Lot, error) {
	if patch.Name == nil && patch.Address == nil && patch.PricePerHour == nil && patch.Capacity == nil {
		return nil, model.NewValidationError("更新する項目を指定してください")
	}
	var name, address string
	var err error
	if patch.Name != nil {
		if name, err = s.cleanText("駐車場名", *patch.Name, MaxNameLength); err != nil {
			return nil, err
		}
	}
	if patch.Address != nil {
		if address, err = s.cleanText("住所", *patch.Address, MaxAddressLength); err != nil {
			return nil, err
		}
	}
	if patch.PricePerHour != nil {
		if err := validatePrice(*patch.PricePerHour); err != nil {
			return nil, err
		}
	}
	if patch.Capacity != nil {
		if err := validateCapacity(*patch.Capacity); err != nil {
			return nil, err
		}
	}

	var updated *model.Lot
	err = s.gateway.WithTransaction(ctx, func(tx repository.Tx) error {
		lot, err := tx.FindLot(ctx, lotID, repository.LockUpdate)
		if err != nil {
			return fmt.Errorf("駐車場の取得に失敗しました: %w", err)
		}
		if lot == nil {
			return model.NewLotNotFoundError(lotID)
		}

		if patch.Name != nil {
			lot.Name = name
		}
		if patch.Address != nil {
			lot.Address = address
		}
		if patch.PricePerHour != nil {
			lot.PricePerHour = *patch.PricePerHour
		}
		if patch.Capacity != nil {
			if err := s.resize(ctx, tx, lot, *patch.Capacity); err != nil {
				return err
			}
		}
		lot.UpdatedAt = s.now()
		if err := tx.UpdateLot(ctx, lot); err != nil {
			return fmt.Errorf("駐車場の更新に失敗しました: %w", err)
		}
		updated = lot
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	s.invalidator.AfterLotChange(ctx)
	s.logger.Info("駐車場を更新しました",
		slog.String("lot_id", lotID),
		slog.Int("capacity", updated.Capacity),
	)
	return updated, nil
}

// resize はロック済みの駐車場のスペース数をnewCapacityに合わせる。lot.Capacityも更新する。
func (s *Service) resize(ctx context.Context, tx repository.Tx, lot *model.Lot, newCapacity int) error {
	spots, err := tx.ListSpots(ctx, lot.ID)
	if err != nil {
		return fmt.Errorf("スペース一覧の取得に失敗しました: %w", err)
	}
	occupied := 0
	for _, sp := range spots {
		if !sp.IsAvailable() {
			occupied++
		}
	}
	if newCapacity < occupied {
		return model.NewCapacityBelowOccupiedError(occupied)
	}

	switch current := len(spots); {
	case newCapacity > current:
		if err := s.appendSpots(ctx, tx, lot, newCapacity-current); err != nil {
			return err
		}
	case newCapacity < current:
		ids := make([]string, 0, current-newCapacity)
		for i := len(spots) - 1; i >= 0 && len(ids) < current-newCapacity; i-- {
			if spots[i].IsAvailable() {
				ids = append(ids, spots[i].ID)
			}
		}
		if err := tx.RemoveSpots(ctx, ids); err != nil {
			return fmt.Errorf("スペースの削除に失敗しました: %w", err)
		}
	}
	lot.Capacity = newCapacity
	return nil
}

// appendSpots はlot.NextSpotNumberから連番でn台分の空きスペースを追加し、採番位置を進める。
func (s *Service) appendSpots(ctx context.Context, tx repository.Tx, lot *model.Lot, n int) error {
	if n <= 0 {
		return nil
	}
	now := s.now()
	spots := make([]*model.Spot, 0, n)
	for i := 0; i < n; i++ {
		spots = append(spots, &model.Spot{
			ID:        uuid.New().String(),
			LotID:     lot.ID,
			Number:    lot.NextSpotNumber + i,
			Status:    model.SpotStatusAvailable,
			CreatedAt: now,
		})
	}
	if err := tx.AddSpots(ctx, spots); err != nil {
		return fmt.Errorf("スペースの作成に失敗しました: %w", err)
	}
	lot.NextSpotNumber += n
	if err := tx.UpdateLot(ctx, lot); err != nil {
		return fmt.Errorf("採番位置の更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteLot は駐車場とそのスペースを削除する。使用中スペースがある場合は拒否する。
// 過去の予約は駐車場名・スペース番号を保持したまま監査用に残る。
func (s *Service) DeleteLot(ctx context.Context, lotID string) error {
	err := s.gateway.WithTransaction(ctx, func(tx repository.Tx) error {
		lot, err := tx.FindLot(ctx, lotID, repository.LockUpdate)
		if err != nil {
			return fmt.Errorf("駐車場の取得に失敗しました: %w", err)
		}
		if lot == nil {
			return model.NewLotNotFoundError(lotID)
		}
		occupied, err := tx.CountOccupied(ctx, lotID)
		if err != nil {
			return fmt.Errorf("使用中スペース数の取得に失敗しました: %w", err)
		}
		if occupied > 0 {
			return model.NewLotOccupiedError(occupied)
		}
		if err := tx.DeleteLot(ctx, lotID); err != nil {
			return fmt.Errorf("駐車場の削除に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return mapStoreError(err)
	}

	s.invalidator.AfterLotChange(ctx)
	s.logger.Info("駐車場を削除しました", slog.String("lot_id", lotID))
	return nil
}

// GetLot は駐車場をスペース集計付きで返す。
func (s *Service) GetLot(ctx context.Context, lotID string) (*model.LotWithCounts, error) {
	lot, err := s.reader.FindLotWithCounts(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("駐車場の取得に失敗しました: %w", err)
	}
	if lot == nil {
		return nil, model.NewLotNotFoundError(lotID)
	}
	return lot, nil
}

func (s *Service) cleanText(field, raw string, maxLen int) (string, error) {
	v := s.sanitizer.Clean(raw)
	if v == "" {
		return "", model.NewValidationError(field + "は必須です")
	}
	if utf8.RuneCountInString(v) > maxLen {
		return "", model.NewValidationError(fmt.Sprintf("%sは%d文字以内で入力してください", field, maxLen))
	}
	return v, nil
}

func validatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return model.NewInvalidPriceError(price)
	}
	return nil
}

func validateCapacity(capacity int) error {
	if capacity < 0 || capacity > MaxLotCapacity {
		return model.NewInvalidCapacityError(capacity, MaxLotCapacity)
	}
	return nil
}

// mapStoreError は一時的なストア障害をServiceUnavailableに変換する。
func mapStoreError(err error) error {
	if errors.Is(err, repository.ErrTransient) {
		return model.NewServiceUnavailableError()
	}
	return err
}
