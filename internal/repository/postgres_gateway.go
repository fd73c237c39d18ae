package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gopkg.in/guregu/null.v4"

	"github.com/hitoshi/parkman/internal/model"
)

// PostgresGateway はPostgreSQLを使用した永続化ゲートウェイ。
// READ COMMITTEDトランザクションと行ロックで整合性を保つ。
type PostgresGateway struct {
	db *sql.DB
}

// NewPostgresGateway はPostgresGatewayを生成する。
func NewPostgresGateway(db *sql.DB) *PostgresGateway {
	return &PostgresGateway{db: db}
}

// WithTransaction はfnを単一トランザクション内で実行する。
func (g *PostgresGateway) WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := g.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return translateError(err, "トランザクションの開始")
	}
	defer sqlTx.Rollback()

	if err := fn(&postgresTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return translateError(err, "トランザクションのコミット")
	}
	return nil
}

// postgresTx はsql.Txに対するTx実装。
type postgresTx struct {
	tx *sql.Tx
}

const lotColumns = `id, name, address, price_per_hour, capacity, next_spot_number, created_at, updated_at`

func scanLot(row interface{ Scan(...any) error }, lot *model.Lot) error {
	return row.Scan(&lot.ID, &lot.Name, &lot.Address, &lot.PricePerHour, &lot.Capacity,
		&lot.NextSpotNumber, &lot.CreatedAt, &lot.UpdatedAt)
}

const reservationColumns = `id, user_id, spot_id, lot_id, lot_name, spot_label, vehicle_number, notes,
	entry_time, exit_time, total_cost, created_at`

func scanReservation(row interface{ Scan(...any) error }, r *model.Reservation) error {
	var spotID null.String
	if err := row.Scan(&r.ID, &r.UserID, &spotID, &r.LotID, &r.LotName, &r.SpotLabel,
		&r.VehicleNumber, &r.Notes, &r.EntryTime, &r.ExitTime, &r.TotalCost, &r.CreatedAt); err != nil {
		return err
	}
	r.SpotID = spotID.String
	return nil
}

// FindUser は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (t *postgresTx) FindUser(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, login_name, full_name, email, phone, role, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.LoginName, &user.FullName, &user.Email, &user.Phone, &user.Role, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "ユーザーの取得")
	}
	return user, nil
}

// FindLot は指定IDの駐車場を取得する。見つからない場合はnilを返す。
func (t *postgresTx) FindLot(ctx context.Context, id string, lock LockMode) (*model.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lots WHERE id = $1`
	switch lock {
	case LockShare:
		query += ` FOR SHARE`
	case LockUpdate:
		query += ` FOR UPDATE`
	}
	lot := &model.Lot{}
	err := scanLot(t.tx.QueryRowContext(ctx, query, id), lot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "駐車場の取得")
	}
	return lot, nil
}

// FindLotForSpot はスペースが属する駐車場を取得する。見つからない場合はnilを返す。
func (t *postgresTx) FindLotForSpot(ctx context.Context, spotID string) (*model.Lot, error) {
	lot := &model.Lot{}
	err := scanLot(t.tx.QueryRowContext(ctx,
		`SELECT l.id, l.name, l.address, l.price_per_hour, l.capacity, l.next_spot_number, l.created_at, l.updated_at
		 FROM lots l JOIN spots s ON s.lot_id = l.id
		 WHERE s.id = $1`,
		spotID,
	), lot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "スペースの駐車場取得")
	}
	return lot, nil
}

// InsertLot は駐車場を作成する。
func (t *postgresTx) InsertLot(ctx context.Context, lot *model.Lot) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO lots (`+lotColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		lot.ID, lot.Name, lot.Address, lot.PricePerHour, lot.Capacity, lot.NextSpotNumber, lot.CreatedAt, lot.UpdatedAt,
	)
	if err != nil {
		return translateError(err, "駐車場の作成")
	}
	return nil
}

// UpdateLot は駐車場の属性・収容台数・採番位置を更新する。
func (t *postgresTx) UpdateLot(ctx context.Context, lot *model.Lot) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE lots SET name = $2, address = $3, price_per_hour = $4, capacity = $5,
		        next_spot_number = $6, updated_at = $7
		 WHERE id = $1`,
		lot.ID, lot.Name, lot.Address, lot.PricePerHour, lot.Capacity, lot.NextSpotNumber, lot.UpdatedAt,
	)
	if err != nil {
		return translateError(err, "駐車場の更新")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("駐車場が見つかりません: %s", lot.ID)
	}
	return nil
}

// DeleteLot は駐車場を削除する。スペースはCASCADE削除され、
// 予約のspot_idはNULLになる。
func (t *postgresTx) DeleteLot(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM lots WHERE id = $1`, id)
	if err != nil {
		return translateError(err, "駐車場の削除")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("駐車場が見つかりません: %s", id)
	}
	return nil
}

// FindAvailableSpot は番号が最も小さい空きスペースをロック付きで取得する。
// 空きがない場合はnilを返す。
func (t *postgresTx) FindAvailableSpot(ctx context.Context, lotID string) (*model.Spot, error) {
	spot := &model.Spot{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, lot_id, number, status, created_at FROM spots
		 WHERE lot_id = $1 AND status = 'available'
		 ORDER BY number ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		lotID,
	).Scan(&spot.ID, &spot.LotID, &spot.Number, &spot.Status, &spot.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "空きスペースの検索")
	}
	return spot, nil
}

// ClaimSpot は空きスペースを使用中にする。
func (t *postgresTx) ClaimSpot(ctx context.Context, spotID string) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE spots SET status = 'occupied' WHERE id = $1 AND status = 'available'`,
		spotID,
	)
	if err != nil {
		return translateError(err, "スペースの確保")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("スペースの確保に失敗しました: %w", ErrSpotTaken)
	}
	return nil
}

// ReleaseSpot はスペースを空きに戻す。スペースが既に削除されている場合は何もしない。
func (t *postgresTx) ReleaseSpot(ctx context.Context, spotID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE spots SET status = 'available' WHERE id = $1`,
		spotID,
	)
	if err != nil {
		return translateError(err, "スペースの解放")
	}
	return nil
}

// CountOccupied は駐車場内の全スペースをロックして使用中スペース数を返す。
// 未コミットの確保はロック解放を待ってから再評価されるため、件数に含まれる。
func (t *postgresTx) CountOccupied(ctx context.Context, lotID string) (int, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT status FROM spots WHERE lot_id = $1 FOR UPDATE`,
		lotID,
	)
	if err != nil {
		return 0, translateError(err, "使用中スペース数の取得")
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var status model.SpotStatus
		if err := rows.Scan(&status); err != nil {
			return 0, fmt.Errorf("スペース行の読み取りに失敗しました: %w", err)
		}
		if status == model.SpotStatusOccupied {
			count++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, translateError(err, "使用中スペース数の走査")
	}
	return count, nil
}

// ListSpots は駐車場のスペースを番号の昇順でロック付きで返す。
func (t *postgresTx) ListSpots(ctx context.Context, lotID string) ([]*model.Spot, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, lot_id, number, status, created_at FROM spots
		 WHERE lot_id = $1 ORDER BY number ASC FOR UPDATE`,
		lotID,
	)
	if err != nil {
		return nil, translateError(err, "スペース一覧の取得")
	}
	defer rows.Close()

	var spots []*model.Spot
	for rows.Next() {
		spot := &model.Spot{}
		if err := rows.Scan(&spot.ID, &spot.LotID, &spot.Number, &spot.Status, &spot.CreatedAt); err != nil {
			return nil, fmt.Errorf("スペース行の読み取りに失敗しました: %w", err)
		}
		spots = append(spots, spot)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err, "スペース一覧の走査")
	}
	return spots, nil
}

// AddSpots はスペースをまとめて作成する。
func (t *postgresTx) AddSpots(ctx context.Context, spots []*model.Spot) error {
	if len(spots) == 0 {
		return nil
	}
	ids := make([]string, len(spots))
	lotIDs := make([]string, len(spots))
	numbers := make([]int64, len(spots))
	statuses := make([]string, len(spots))
	createdAts := make([]string, len(spots))
	for i, s := range spots {
		ids[i] = s.ID
		lotIDs[i] = s.LotID
		numbers[i] = int64(s.Number)
		statuses[i] = string(s.Status)
		createdAts[i] = s.CreatedAt.Format(time.RFC3339Nano)
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO spots (id, lot_id, number, status, created_at)
		 SELECT * FROM unnest($1::text[], $2::text[], $3::int[], $4::text[], $5::timestamptz[])`,
		pq.Array(ids), pq.Array(lotIDs), pq.Array(numbers), pq.Array(statuses), pq.Array(createdAts),
	)
	if err != nil {
		return translateError(err, "スペースの作成")
	}
	return nil
}

// RemoveSpots は指定スペースを削除する。空きスペースのみを対象とし、
// 削除件数が指定数に満たない場合はErrSpotTakenを返す。
func (t *postgresTx) RemoveSpots(ctx context.Context, spotIDs []string) error {
	if len(spotIDs) == 0 {
		return nil
	}
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM spots WHERE id = ANY($1) AND status = 'available'`,
		pq.Array(spotIDs),
	)
	if err != nil {
		return translateError(err, "スペースの削除")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if int(rows) != len(spotIDs) {
		return fmt.Errorf("スペースの削除に失敗しました: %w", ErrSpotTaken)
	}
	return nil
}

// FindOpenReservationByUser はユーザーの利用中予約を取得する。見つからない場合はnilを返す。
func (t *postgresTx) FindOpenReservationByUser(ctx context.Context, userID string) (*model.Reservation, error) {
	r := &model.Reservation{}
	err := scanReservation(t.tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE user_id = $1 AND exit_time IS NULL`,
		userID,
	), r)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "利用中予約の取得")
	}
	return r, nil
}

// FindReservation は指定IDの予約を取得する。見つからない場合はnilを返す。
func (t *postgresTx) FindReservation(ctx context.Context, id string, forUpdate bool) (*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r := &model.Reservation{}
	err := scanReservation(t.tx.QueryRowContext(ctx, query, id), r)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(err, "予約の取得")
	}
	return r, nil
}

// InsertReservation は予約を作成する。
// 部分ユニークインデックス違反はErrActiveReservationExists/ErrSpotTakenに変換される。
func (t *postgresTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO reservations (`+reservationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.UserID, null.NewString(r.SpotID, r.SpotID != ""), r.LotID, r.LotName, r.SpotLabel,
		r.VehicleNumber, r.Notes, r.EntryTime, r.ExitTime, r.TotalCost, r.CreatedAt,
	)
	if err != nil {
		return translateError(err, "予約の作成")
	}
	return nil
}

// CloseReservation は利用中予約に出庫日時と料金を記録する。
func (t *postgresTx) CloseReservation(ctx context.Context, id string, exitTime time.Time, cost float64) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET exit_time = $2, total_cost = $3
		 WHERE id = $1 AND exit_time IS NULL`,
		id, exitTime, cost,
	)
	if err != nil {
		return translateError(err, "予約の終了")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("予約の終了に失敗しました: %w", ErrAlreadyClosed)
	}
	return nil
}

// compile-time interface check
var (
	_ Gateway = (*PostgresGateway)(nil)
	_ Tx      = (*postgresTx)(nil)
)
