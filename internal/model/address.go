package model

import "time"

// AddressLabel は住所の種別ラベル。
type AddressLabel string

const (
	AddressLabelWork   AddressLabel = "Work"
	AddressLabelHome   AddressLabel = "Home"
	AddressLabelFriend AddressLabel = "Friend"
	AddressLabelOther  AddressLabel = "Other"
)

// Valid はラベルが定義済みの値かどうかを判定する。
func (l AddressLabel) Valid() bool {
	switch l {
	case AddressLabelWork, AddressLabelHome, AddressLabelFriend, AddressLabelOther:
		return true
	default:
		return false
	}
}

// Address はユーザーが登録した住所を表す。
// 1件の住所は必ず1人のユーザー（OwnerExternalID）に所有される。
type Address struct {
	ID              string
	OwnerExternalID string
	Label           AddressLabel
	City            string
	State           string
	PostalCode      string
	Country         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AddressInput は住所の作成・更新リクエストの入力値を表す。
type AddressInput struct {
	Label      string
	City       string
	State      string
	PostalCode string
	Country    string
}
