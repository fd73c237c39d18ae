// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, conflict, not_found, unavailable, auth, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation  = "validation"
	CategoryConflict    = "conflict"
	CategoryNotFound    = "not_found"
	CategoryUnavailable = "unavailable"
	CategoryAuth        = "auth"
	CategorySystem      = "system"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidInput            = "INVALID_INPUT"
	ErrCodeInvalidPrice            = "INVALID_PRICE"
	ErrCodeInvalidCapacity         = "INVALID_CAPACITY"
	ErrCodeCapacityBelowOccupied   = "CAPACITY_BELOW_OCCUPIED"
	ErrCodeLotOccupied             = "LOT_OCCUPIED"
	ErrCodeInvalidVehicle          = "INVALID_VEHICLE_NUMBER"
	ErrCodeActiveReservationExists = "ACTIVE_RESERVATION_EXISTS"
	ErrCodeAlreadyReleased         = "ALREADY_RELEASED"
	ErrCodeNoAvailableSpots        = "NO_AVAILABLE_SPOTS"
	ErrCodeLotNotFound             = "LOT_NOT_FOUND"
	ErrCodeReservationNotFound     = "RESERVATION_NOT_FOUND"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeServiceUnavailable      = "SERVICE_UNAVAILABLE"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeRateLimited             = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewValidationError は入力値エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidPriceError は時間単価が正でない場合のエラーを生成する。
func NewInvalidPriceError(price float64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPrice,
		Message:  fmt.Sprintf("無効な時間単価です: %.2f", price),
		Category: CategoryValidation,
		Action:   "時間単価には0より大きい値を指定してください。",
	}
}

// NewInvalidCapacityError は収容台数が範囲外の場合のエラーを生成する。
func NewInvalidCapacityError(capacity, max int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCapacity,
		Message:  fmt.Sprintf("無効な収容台数です: %d", capacity),
		Category: CategoryValidation,
		Action:   fmt.Sprintf("収容台数は0から%dの範囲で指定してください。", max),
	}
}

// NewCapacityBelowOccupiedError は使用中スペース数を下回る縮小を拒否するエラーを生成する。
func NewCapacityBelowOccupiedError(occupied int) *APIError {
	return &APIError{
		Code:     ErrCodeCapacityBelowOccupied,
		Message:  fmt.Sprintf("使用中のスペース（%d台）を下回る台数には変更できません。", occupied),
		Category: CategoryValidation,
		Action:   "使用中の車両が出庫してから再度お試しください。",
	}
}

// NewLotOccupiedError は使用中スペースを含む駐車場の削除を拒否するエラーを生成する。
func NewLotOccupiedError(occupied int) *APIError {
	return &APIError{
		Code:     ErrCodeLotOccupied,
		Message:  fmt.Sprintf("使用中のスペースが%d台あるため駐車場を削除できません。", occupied),
		Category: CategoryValidation,
		Action:   "すべての車両が出庫してから削除してください。",
	}
}

// NewInvalidVehicleError は車両番号が不正な場合のエラーを生成する。
func NewInvalidVehicleError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidVehicle,
		Message:  fmt.Sprintf("無効な車両番号です: %s", reason),
		Category: CategoryValidation,
		Action:   "1〜20文字の車両番号を入力してください。",
	}
}

// NewActiveReservationExistsError は利用中の予約が既にある場合のエラーを生成する。
func NewActiveReservationExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeActiveReservationExists,
		Message:  "active reservation exists",
		Category: CategoryConflict,
		Action:   "現在の予約を解放してから新しく予約してください。",
	}
}

// NewAlreadyReleasedError は解放済み予約を再度解放しようとした場合のエラーを生成する。
func NewAlreadyReleasedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyReleased,
		Message:  "already released",
		Category: CategoryConflict,
		Action:   "予約履歴で状態を確認してください。",
	}
}

// NewNoAvailableSpotsError は空きスペースがない場合のエラーを生成する。
func NewNoAvailableSpotsError() *APIError {
	return &APIError{
		Code:     ErrCodeNoAvailableSpots,
		Message:  "no available spots",
		Category: CategoryNotFound,
		Action:   "別の駐車場を選ぶか、しばらく待ってから再度お試しください。",
	}
}

// NewLotNotFoundError は駐車場が見つからない場合のエラーを生成する。
func NewLotNotFoundError(lotID string) *APIError {
	return &APIError{
		Code:     ErrCodeLotNotFound,
		Message:  fmt.Sprintf("指定された駐車場が見つかりません: %s", lotID),
		Category: CategoryNotFound,
		Action:   "駐車場IDを確認してください。",
	}
}

// NewReservationNotFoundError は予約が見つからない場合のエラーを生成する。
func NewReservationNotFoundError(reservationID string) *APIError {
	return &APIError{
		Code:     ErrCodeReservationNotFound,
		Message:  fmt.Sprintf("指定された予約が見つかりません: %s", reservationID),
		Category: CategoryNotFound,
		Action:   "予約IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryNotFound,
		Action:   "ログインし直してください。",
	}
}

// NewServiceUnavailableError は一時的な障害でリトライ上限に達した場合のエラーを生成する。
func NewServiceUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  "混雑のため処理を完了できませんでした。",
		Category: CategoryUnavailable,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は利用者を識別できない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "利用者を識別できません。",
		Category: CategoryAuth,
		Action:   "ログインし直してください。",
	}
}

// NewForbiddenError は権限が不足している場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: CategoryAuth,
		Action:   "管理者アカウントで操作してください。",
	}
}

// NewRateLimitError はリクエスト数が上限を超えた場合のエラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: CategorySystem,
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーの利用者向け表現を生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// CategoryOf はエラーチェーン中のAPIErrorのカテゴリを返す。
// APIErrorを含まない場合は空文字を返す。
func CategoryOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return ""
}

// IsValidation は入力値エラーかどうかを返す。
func IsValidation(err error) bool { return CategoryOf(err) == CategoryValidation }

// IsConflict は業務ルール違反（競合）エラーかどうかを返す。
func IsConflict(err error) bool { return CategoryOf(err) == CategoryConflict }

// IsNotFound は対象未検出エラーかどうかを返す。
func IsNotFound(err error) bool { return CategoryOf(err) == CategoryNotFound }

// IsUnavailable は一時的なサービス停止エラーかどうかを返す。
func IsUnavailable(err error) bool { return CategoryOf(err) == CategoryUnavailable }

// HasCode はエラーチェーン中のAPIErrorが指定コードを持つかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
