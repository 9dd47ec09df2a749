// Package media は外部URLからの画像取り込み（ファイルAPIへのインポート）を提供する。
package media

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// imageMetaPriority はheadから画像URLを探すときのメタ情報の優先順位。
// 小さいほど優先する。
var imageMetaPriority = map[string]int{
	"og:image:secure_url": 0,
	"og:image":            1,
	"og:image:url":        2,
	"twitter:image":       3,
	"twitter:image:src":   4,
	"image_src":           5,
}

// FindImageURL はHTMLのheadからページの代表画像URLを検出する。
// og:image, twitter:image, link rel="image_src" を優先順位順に評価し、
// 相対URLはbaseURLを基準に絶対URLに解決する。見つからない場合は空文字列。
func FindImageURL(htmlBody []byte, baseURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	best, bestRank := "", len(imageMetaPriority)
	consider := func(key, ref string) {
		rank, ok := imageMetaPriority[key]
		if !ok || ref == "" || rank >= bestRank {
			return
		}
		if resolved := resolveURL(base, ref); resolved != "" {
			best, bestRank = resolved, rank
		}
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return best

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			switch string(tn) {
			case "body":
				return best
			case "meta":
				if !hasAttr {
					continue
				}
				attrs := readAttrs(tokenizer)
				key := attrs["property"]
				if key == "" {
					key = attrs["name"]
				}
				consider(strings.ToLower(key), attrs["content"])
			case "link":
				if !hasAttr {
					continue
				}
				attrs := readAttrs(tokenizer)
				if strings.EqualFold(attrs["rel"], "image_src") {
					consider("image_src", attrs["href"])
				}
			}

		case html.EndTagToken:
			if tn, _ := tokenizer.TagName(); string(tn) == "head" {
				return best
			}
		}
	}
}

func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		attrs[strings.ToLower(string(key))] = strings.TrimSpace(string(val))
		if !more {
			return attrs
		}
	}
}

// resolveURL は相対URLをベースURLを基準に絶対URLに解決する。
// http/https以外になる参照（data:, javascript: 等）は空文字列を返す。
func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// mediaTypeOf はContent-Typeヘッダーからメディアタイプを取り出す。
func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}
