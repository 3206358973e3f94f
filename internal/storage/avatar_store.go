// Package storage はオブジェクトストレージ上のアバター画像を管理する。
//
// プロフィール編集でカスタムアバターが置き換えられたとき、
// 古い画像が自サービスのバケットに置かれていればそれを削除する。
// 画像のアップロードはこのパッケージの対象外。
package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrNotManaged は指定URLが管理対象バケットのオブジェクトではないことを示す。
var ErrNotManaged = errors.New("url is not a managed avatar object")

// publicURLBase はGCSの公開オブジェクトURLの接頭辞。
const publicURLBase = "https://storage.googleapis.com/"

// AvatarStore はアバター画像オブジェクトの削除を行うインターフェース。
type AvatarStore interface {
	// IsManaged はURLが自サービスのバケット上のオブジェクトを指すかどうかを返す。
	IsManaged(rawURL string) bool
	// Delete はURLが指すオブジェクトを削除する。
	// 管理対象外のURLにはErrNotManagedを返す。既に存在しない場合は成功とみなす。
	Delete(ctx context.Context, rawURL string) error
}

// ObjectName はバケットの公開URLからオブジェクト名を取り出す。
// URLが"https://storage.googleapis.com/<bucket>/"で始まらない場合はfalseを返す。
func ObjectName(bucket, rawURL string) (string, bool) {
	if bucket == "" {
		return "", false
	}
	prefix := publicURLBase + bucket + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}

	name := strings.TrimPrefix(rawURL, prefix)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	unescaped, err := url.PathUnescape(name)
	if err != nil || unescaped == "" {
		return "", false
	}
	return unescaped, true
}

// NopAvatarStore はバケットが未設定の環境で使う何もしないAvatarStore。
// どのURLも管理対象外として扱う。
type NopAvatarStore struct{}

// IsManaged は常にfalseを返す。
func (NopAvatarStore) IsManaged(string) bool { return false }

// Delete は常にErrNotManagedを返す。
func (NopAvatarStore) Delete(context.Context, string) error { return ErrNotManaged }

// compile-time interface check
var _ AvatarStore = NopAvatarStore{}
