// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限種別を表す。
type Role string

const (
	// RoleAdmin は駐車場を管理する管理者。
	RoleAdmin Role = "admin"
	// RoleUser は駐車スペースを予約する一般ユーザー。
	RoleUser Role = "user"
)

// User はサービス利用ユーザーを表す。
// プロフィール編集以外では作成後に変更されない。
type User struct {
	ID        string
	LoginName string
	FullName  string
	Email     string
	Phone     string
	Role      Role
	CreatedAt time.Time
}

// UserBookings は一般ユーザーと累計予約件数の読み取りモデル。
type UserBookings struct {
	User
	TotalBookings int
}

// IsAdmin は管理者かどうかを返す。
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
