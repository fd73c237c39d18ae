package repository

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ストア層のセンチネルエラー。サービス層でAPIErrorへ変換する。
var (
	// ErrSpotTaken は対象スペースが他の予約に取られた場合のエラー。
	ErrSpotTaken = errors.New("spot already taken")
	// ErrTransient はシリアライズ失敗・デッドロック・接続断などの一時的エラー。
	ErrTransient = errors.New("transient store failure")
	// ErrAlreadyClosed は予約が既に終了している場合のエラー。
	ErrAlreadyClosed = errors.New("reservation already closed")
	// ErrActiveReservationExists はユーザーに利用中予約が既にある場合のエラー。
	ErrActiveReservationExists = errors.New("active reservation exists")
)

// 部分ユニークインデックス名
const (
	constraintOpenPerUser = "reservations_one_open_per_user"
	constraintOpenPerSpot = "reservations_one_open_per_spot"
)

// translateError はPostgreSQLのエラーをセンチネルエラーへ変換してラップする。
func translateError(err error, action string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%sに失敗しました: %w: %v", action, ErrTransient, err)
		case "23505":
			switch pqErr.Constraint {
			case constraintOpenPerUser:
				return fmt.Errorf("%sに失敗しました: %w", action, ErrActiveReservationExists)
			case constraintOpenPerSpot:
				return fmt.Errorf("%sに失敗しました: %w", action, ErrSpotTaken)
			}
		}
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%sに失敗しました: %w: %v", action, ErrTransient, err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%sに失敗しました: %w: %v", action, ErrTransient, err)
	}
	return fmt.Errorf("%sに失敗しました: %w", action, err)
}

// IsRetryable はAllocateの再試行対象となるエラーかどうかを返す。
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSpotTaken) || errors.Is(err, ErrTransient)
}
