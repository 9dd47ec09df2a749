package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer は上流APIから受け取ったユーザー入力テキストを無害化する。
// 説明文やプロフィールは限定的なHTMLを許可し、名前などはタグを全て除去する。
type ContentSanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
//
// 説明文ポリシー:
//   - 許可タグ: p, br, ul, ol, li, strong, em, code, a
//   - aのhrefは http/https のみ。target="_blank" と rel="noopener noreferrer" を付与
//   - 画像・script・style・on*属性は除去
func NewContentSanitizer() *ContentSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "ul", "ol", "li", "strong", "em", "code")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowRelativeURLs(false)
	rich.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool { return true })
	rich.AllowURLSchemeWithCustomPolicy("http", func(*url.URL) bool { return true })
	rich.RequireNoReferrerOnLinks(true)
	rich.AddTargetBlankToFullyQualifiedLinks(true)

	return &ContentSanitizer{
		rich:   rich,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize は説明文のHTMLを許可リストに従って無害化する。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.rich.Sanitize(rawHTML)
}

// SanitizeText はタグを全て除去したテキストを返す。
func (s *ContentSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.strict.Sanitize(raw))
}
