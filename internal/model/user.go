// Package model はドメインモデルを定義する。
package model

import "time"

// BioMaxLength は自己紹介文の最大文字数（rune単位）。
const BioMaxLength = 500

// User はサービス利用ユーザーを表す。
// ExternalIDはGoogleが払い出す安定したユーザーIDで、主キーとして扱う。
type User struct {
	ExternalID   string
	Email        string
	Name         string
	Picture      string // IdPが提供するアバターURL
	CustomAvatar string // ユーザーが設定したアバターURL。空でなければPictureより優先する
	Bio          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    time.Time
}

// AvatarURL は表示に使うアバターURLを返す。
// カスタムアバターが設定されていればそれを、なければIdPのアバターを返す。
func (u *User) AvatarURL() string {
	if u.CustomAvatar != "" {
		return u.CustomAvatar
	}
	return u.Picture
}

// ProfileChanges はプロフィールの部分更新内容を表す。
// nilのフィールドは変更しない。
type ProfileChanges struct {
	Name         *string
	Bio          *string
	CustomAvatar *string
}

// IsEmpty は変更対象のフィールドが1つもない場合にtrueを返す。
func (c ProfileChanges) IsEmpty() bool {
	return c.Name == nil && c.Bio == nil && c.CustomAvatar == nil
}
