// Package billing は駐車料金の計算規則を提供する。
//
// 料金は利用時間を1時間単位で切り上げた課金時間 × 時間単価で求め、
// 小数点以下2桁に丸める。1分の利用も59分の利用も同じ1時間分となる。
// 時計のずれで利用時間が0以下になった場合も最低1時間を課金する。
package billing

import (
	"math"
	"time"
)

// MinBillableHours は最低課金時間。
const MinBillableHours = 1

// BillableHours は利用時間を切り上げた課金時間を返す。
func BillableHours(d time.Duration) int {
	hours := int(math.Ceil(d.Hours()))
	if hours < MinBillableHours {
		return MinBillableHours
	}
	return hours
}

// Cost は入庫時刻から出庫時刻までの料金を返す。
func Cost(entry, exit time.Time, pricePerHour float64) float64 {
	return Round2(float64(BillableHours(exit.Sub(entry))) * pricePerHour)
}

// RunningCost はOPEN予約の現時点での料金を返す。
// 出庫時刻の代わりに now を使う以外は Cost と同じ規則。
func RunningCost(entry, now time.Time, pricePerHour float64) float64 {
	return Cost(entry, now, pricePerHour)
}

// DurationHours は2点間の経過時間を時間単位（小数点以下2桁）で返す。toがfromより前の場合は0。
func DurationHours(from, to time.Time) float64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return Round2(d.Hours())
}

// Round2 は小数点以下2桁に丸める。
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
