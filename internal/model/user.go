// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（認証情報）を表す。
// FullNameとAvatarURLは登録時・アバターアップロード時のメタデータで、
// 表示用の値はProfileと合わせて解決する。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string
	AvatarURL    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Profile は公開プロフィールを表す。
// usersと1:1だが、行が存在しない・遅れて作成される場合がある。
type Profile struct {
	ID        string
	FullName  *string
	AvatarURL *string
	Phone     *string
	LineID    *string
	Email     *string
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// ProfileView は表示用に派生フィールドを解決済みのプロフィール。
// 解決はprofileパッケージの境界で1回だけ行う。
type ProfileView struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Phone       string
	LineID      string
	Email       string
	Exists      bool // profilesテーブルに行があるか
}
