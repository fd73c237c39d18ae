package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/parkman/internal/model"
)

// PostgresReportRepo はPostgreSQLを使用した集計用リポジトリ。
type PostgresReportRepo struct {
	db *sql.DB
}

// NewPostgresReportRepo はPostgresReportRepoを生成する。
func NewPostgresReportRepo(db *sql.DB) *PostgresReportRepo {
	return &PostgresReportRepo{db: db}
}

const lotWithCountsQuery = `SELECT l.id, l.name, l.address, l.price_per_hour, l.capacity, l.next_spot_number,
		l.created_at, l.updated_at,
		COUNT(s.id) FILTER (WHERE s.status = 'available'),
		COUNT(s.id) FILTER (WHERE s.status = 'occupied'),
		COUNT(s.id)
	 FROM lots l LEFT JOIN spots s ON s.lot_id = l.id`

func scanLotWithCounts(row interface{ Scan(...any) error }, lc *model.LotWithCounts) error {
	return row.Scan(&lc.ID, &lc.Name, &lc.Address, &lc.PricePerHour, &lc.Capacity, &lc.NextSpotNumber,
		&lc.CreatedAt, &lc.UpdatedAt, &lc.AvailableSpots, &lc.OccupiedSpots, &lc.TotalSpots)
}

// ListLotsWithCounts は全駐車場を空き・使用中台数付きで作成順に返す。
func (r *PostgresReportRepo) ListLotsWithCounts(ctx context.Context) ([]model.LotWithCounts, error) {
	rows, err := r.db.QueryContext(ctx,
		lotWithCountsQuery+` GROUP BY l.id ORDER BY l.created_at ASC, l.id ASC`)
	if err != nil {
		return nil, translateError(err, "駐車場一覧の取得")
	}
	defer rows.Close()

	lots := []model.LotWithCounts{}
	for rows.Next() {
		var lc model.LotWithCounts
		if err := scanLotWithCounts(rows, &lc); err != nil {
			return nil, fmt.Errorf("駐車場行の読み取りに失敗しました: %w", err)
		}
		lots = append(lots, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "駐車場一覧の走査")
	}
	return lots, nil
}

// FindLotWithCounts は指定駐車場を台数付きで返す。見つからない場合はnilを返す。
func (r *PostgresReportRepo) FindLotWithCounts(ctx context.Context, lotID string) (*model.LotWithCounts, error) {
	lc := &model.LotWithCounts{}
	err := scanLotWithCounts(r.db.QueryRowContext(ctx,
		lotWithCountsQuery+` WHERE l.id = $1 GROUP BY l.id`, lotID), lc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "駐車場の取得")
	}
	return lc, nil
}

// DashboardStats は管理ダッシュボードの集計値を返す。
// 売上は終了済み予約のみを対象とする。
func (r *PostgresReportRepo) DashboardStats(ctx context.Context) (*model.DashboardStats, error) {
	stats := &model.DashboardStats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM lots),
			(SELECT COUNT(*) FROM spots WHERE status = 'available'),
			(SELECT COUNT(*) FROM spots WHERE status = 'occupied'),
			(SELECT COALESCE(SUM(total_cost), 0) FROM reservations WHERE exit_time IS NOT NULL)`,
	).Scan(&stats.TotalLots, &stats.Available, &stats.Occupied, &stats.TotalRevenue)
	if err != nil {
		return nil, translateError(err, "ダッシュボード集計の取得")
	}
	return stats, nil
}

// ListReservationsByUser はユーザーの予約を入庫日時の降順で返す。
func (r *PostgresReportRepo) ListReservationsByUser(ctx context.Context, userID string) ([]*model.Reservation, error) {
	return r.queryReservations(ctx, "予約履歴",
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE user_id = $1
		 ORDER BY entry_time DESC, id DESC`,
		userID,
	)
}

// ListReservations は全予約を入庫日時の降順で返す。
func (r *PostgresReportRepo) ListReservations(ctx context.Context) ([]*model.Reservation, error) {
	return r.queryReservations(ctx, "予約一覧",
		`SELECT `+reservationColumns+` FROM reservations
		 ORDER BY entry_time DESC, id DESC`,
	)
}

func (r *PostgresReportRepo) queryReservations(ctx context.Context, what, query string, args ...any) ([]*model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err, what+"の取得")
	}
	defer rows.Close()

	reservations := []*model.Reservation{}
	for rows.Next() {
		res := &model.Reservation{}
		if err := scanReservation(rows, res); err != nil {
			return nil, fmt.Errorf("予約行の読み取りに失敗しました: %w", err)
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, what+"の走査")
	}
	return reservations, nil
}

// ListUsersWithBookings は一般ユーザーを累計予約件数付きで登録順に返す。
func (r *PostgresReportRepo) ListUsersWithBookings(ctx context.Context) ([]model.UserBookings, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.login_name, u.full_name, u.email, u.phone, u.role, u.created_at, COUNT(r.id)
		 FROM users u LEFT JOIN reservations r ON r.user_id = u.id
		 WHERE u.role = 'user'
		 GROUP BY u.id
		 ORDER BY u.created_at ASC, u.id ASC`,
	)
	if err != nil {
		return nil, translateError(err, "ユーザー一覧の取得")
	}
	defer rows.Close()

	users := []model.UserBookings{}
	for rows.Next() {
		var ub model.UserBookings
		if err := rows.Scan(&ub.ID, &ub.LoginName, &ub.FullName, &ub.Email, &ub.Phone, &ub.Role,
			&ub.CreatedAt, &ub.TotalBookings); err != nil {
			return nil, fmt.Errorf("ユーザー行の読み取りに失敗しました: %w", err)
		}
		users = append(users, ub)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "ユーザー一覧の走査")
	}
	return users, nil
}

// ListOpenReservations は利用中の予約を利用者・単価付きで入庫日時の昇順に返す。
func (r *PostgresReportRepo) ListOpenReservations(ctx context.Context) ([]model.ActiveParking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.id, r.user_id, u.full_name, u.phone, r.vehicle_number,
		        r.lot_id, r.lot_name, r.spot_label, l.price_per_hour, r.entry_time
		 FROM reservations r
		 JOIN users u ON u.id = r.user_id
		 JOIN lots l ON l.id = r.lot_id
		 WHERE r.exit_time IS NULL
		 ORDER BY r.entry_time ASC, r.id ASC`,
	)
	if err != nil {
		return nil, translateError(err, "利用中予約の取得")
	}
	defer rows.Close()

	parkings := []model.ActiveParking{}
	for rows.Next() {
		var p model.ActiveParking
		if err := rows.Scan(&p.ReservationID, &p.UserID, &p.UserName, &p.UserPhone, &p.VehicleNumber,
			&p.LotID, &p.LotName, &p.SpotLabel, &p.PricePerHour, &p.EntryTime); err != nil {
			return nil, fmt.Errorf("利用中予約行の読み取りに失敗しました: %w", err)
		}
		parkings = append(parkings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "利用中予約の走査")
	}
	return parkings, nil
}

// LotUsage は駐車場ごとの予約件数と売上を返す。予約のない駐車場も0件で含める。
func (r *PostgresReportRepo) LotUsage(ctx context.Context) ([]model.LotUsage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT l.id, l.name, COUNT(r.id), COALESCE(SUM(r.total_cost), 0)
		 FROM lots l LEFT JOIN reservations r ON r.lot_id = l.id
		 GROUP BY l.id
		 ORDER BY l.created_at ASC, l.id ASC`,
	)
	if err != nil {
		return nil, translateError(err, "駐車場別利用状況の取得")
	}
	defer rows.Close()

	usage := []model.LotUsage{}
	for rows.Next() {
		var u model.LotUsage
		if err := rows.Scan(&u.LotID, &u.LotName, &u.Reservations, &u.Revenue); err != nil {
			return nil, fmt.Errorf("利用状況行の読み取りに失敗しました: %w", err)
		}
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "駐車場別利用状況の走査")
	}
	return usage, nil
}

// DailyEntries はfromからdays日分の日別入庫件数を返す。
func (r *PostgresReportRepo) DailyEntries(ctx context.Context, from time.Time, days int, loc *time.Location) ([]model.DailyCount, error) {
	start := StartOfDay(from, loc)
	end := start.AddDate(0, 0, days)

	rows, err := r.db.QueryContext(ctx,
		`SELECT to_char(entry_time AT TIME ZONE $3, 'YYYY-MM-DD') AS day, COUNT(*)
		 FROM reservations
		 WHERE entry_time >= $1 AND entry_time < $2
		 GROUP BY day`,
		start, end, loc.String(),
	)
	if err != nil {
		return nil, translateError(err, "日別入庫件数の取得")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var day string
		var count int
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("日別入庫件数行の読み取りに失敗しました: %w", err)
		}
		counts[day] = count
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "日別入庫件数の走査")
	}
	return FillDays(start, days, counts), nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresReportRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// StartOfDay はtをlocにおける当日0時に切り詰める。
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// FillDays は件数0の日を補完した日別件数を返す。countsのキーはYYYY-MM-DD形式。
func FillDays(start time.Time, days int, counts map[string]int) []model.DailyCount {
	result := make([]model.DailyCount, 0, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		result = append(result, model.DailyCount{
			Date:  day,
			Count: counts[day.Format("2006-01-02")],
		})
	}
	return result
}

// compile-time interface check
var _ ReportReader = (*PostgresReportRepo)(nil)
