// Package security はユーザー入力の無害化を提供する。
//
// TextSanitizer はプロフィールの表示名や自己紹介文からHTMLを取り除き、
// プレーンテキストとして保存できる形にする。
// bluemondayのStrictPolicyで全タグを除去したのち、文字参照を元の文字に戻す。
// 文字参照で書かれたタグは戻した時点で再びタグになるため、出力が変化しなくなるまで繰り返す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は入力からHTMLタグを除去したプレーンテキストを返す。
	// script/styleタグは中身ごと除去される。前後の空白は取り除く。
	// 戻り値はHTMLエスケープされていないため、HTMLへ出力する側でエスケープすること。
	Sanitize(input string) string
}

// maxSanitizePasses は除去と文字参照の復元を繰り返す上限。
// 多重にエスケープされた入力でも1段ずつしか戻らないため、上限を設ける。
const maxSanitizePasses = 8

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなため、1つのインスタンスを共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からHTMLタグを除去したプレーンテキストを返す。
func (s *textSanitizer) Sanitize(input string) string {
	if input == "" {
		return ""
	}

	current := input
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(current))
		if next == current {
			return strings.TrimSpace(next)
		}
		current = next
	}

	// 収束しない入力はエスケープしたまま返し、タグとして解釈されないようにする
	return strings.TrimSpace(s.policy.Sanitize(current))
}
