// Package security はユーザー入力のサニタイズ機能を提供する。
//
// 土地情報の説明文は簡単な書式のみを許可するHTMLとして保存する。
// タイトル・メッセージ・プロフィール項目は入力どおりのプレーンテキストとして保存し、
// 表示側でエスケープする。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はユーザー入力のサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Sanitize は説明文のHTMLをサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, a, ul, ol, li, strong, em）のみを通過させる。
	// aタグのhrefはhttpsのみ許可し、target="_blank"とrel="noopener noreferrer"を付与する。
	Sanitize(rawHTML string) string

	// NormalizeText はプレーンテキストの前後の空白と、不正なUTF-8・NUL文字を除去する。
	// "<" などの記号は残すため、表示側でエスケープすること。
	NormalizeText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	// script, iframe, style等は許可リストに含めないことで除去される
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize は説明文のHTMLをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}

// NormalizeText は入力を保ったまま、PostgreSQLのtext型に保存できない文字だけを取り除く。
func (s *contentSanitizer) NormalizeText(raw string) string {
	cleaned := strings.ToValidUTF8(raw, "")
	cleaned = strings.ReplaceAll(cleaned, "\x00", "")
	return strings.TrimSpace(cleaned)
}
