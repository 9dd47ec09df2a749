package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/mavae-gateway/internal/model"
	"github.com/hitoshi/mavae-gateway/internal/security"
)

const (
	defaultTimeout = 10 * time.Second
	defaultMaxSize = 10 << 20

	userAgent = "MavaeGateway/1.0 (+media import)"
)

// rasterTypes は取り込みを許可する画像形式。SVGはスクリプトを含められるため除外する。
var rasterTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Uploader はファイルAPIへのアップロードを行う。
// 閲覧者のトークンを持つ apiclient.Client が実装する。
type Uploader interface {
	UploadFile(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Config はインポートの制限値。
type Config struct {
	Timeout time.Duration
	MaxSize int64
}

// Result はインポート結果。
type Result struct {
	URL         string `json:"url"`
	SourceURL   string `json:"source_url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Importer は外部URLの画像を取得し、ファイルAPIにアップロードする。
// HTMLページが指定された場合は og:image 等の代表画像を取り込む。
type Importer struct {
	guard  security.URLGuard
	client *http.Client
	config Config
}

// NewImporter はImporterを生成する。
func NewImporter(guard security.URLGuard, config Config) *Importer {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultMaxSize
	}
	return &Importer{
		guard:  guard,
		client: guard.NewSafeClient(config.Timeout),
		config: config,
	}
}

type fetched struct {
	url       string
	mediaType string
	body      []byte
}

// Import はrawURLの画像をアップロードし、ホストされたURLを返す。
//  1. URLを検証する（SSRF）
//  2. 取得したContent-Typeがラスター画像（png, jpeg, gif, webp）ならそのままアップロード
//  3. text/htmlならheadから画像URLを検出し、その画像を取得してアップロード
//
// 取得・検出のエラーは *model.APIError、アップロードのエラーは上流のエラーをそのまま返す。
func (im *Importer) Import(ctx context.Context, up Uploader, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := im.validate(rawURL); err != nil {
		return nil, err
	}

	src, err := im.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	switch {
	case rasterTypes[src.mediaType]:
	case strings.Contains(src.mediaType, "html"):
		imageURL := FindImageURL(src.body, src.url)
		if imageURL == "" {
			return nil, model.NewMediaNotDetectedError(rawURL)
		}
		if err := im.validate(imageURL); err != nil {
			return nil, err
		}
		src, err = im.fetch(ctx, imageURL)
		if err != nil {
			return nil, err
		}
		if !rasterTypes[src.mediaType] {
			return nil, model.NewMediaNotDetectedError(rawURL)
		}
	default:
		return nil, model.NewMediaNotDetectedError(rawURL)
	}

	hosted, err := up.UploadFile(ctx, fileNameFor(src.url, src.mediaType), src.mediaType, src.body)
	if err != nil {
		return nil, fmt.Errorf("failed to upload imported media: %w", err)
	}

	slog.InfoContext(ctx, "media imported",
		slog.String("source", src.url),
		slog.String("content_type", src.mediaType),
		slog.Int("size", len(src.body)),
	)
	return &Result{
		URL:         hosted,
		SourceURL:   src.url,
		ContentType: src.mediaType,
		Size:        len(src.body),
	}, nil
}

func (im *Importer) validate(rawURL string) error {
	err := im.guard.ValidateURL(rawURL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, security.ErrBlockedURL):
		slog.Warn("media import blocked", slog.String("url", rawURL), slog.String("error", err.Error()))
		return model.NewSSRFBlockedError()
	default:
		return model.NewInvalidURLError(err.Error())
	}
}

func (im *Importer) fetch(ctx context.Context, rawURL string) (*fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*, text/html;q=0.8")

	resp, err := im.client.Do(req)
	if err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}
	if resp.ContentLength > im.config.MaxSize {
		return nil, model.NewFetchFailedError(fmt.Sprintf("サイズ上限（%dバイト）を超えています", im.config.MaxSize))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, im.config.MaxSize+1))
	if err != nil {
		return nil, model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}
	if int64(len(body)) > im.config.MaxSize {
		return nil, model.NewFetchFailedError(fmt.Sprintf("サイズ上限（%dバイト）を超えています", im.config.MaxSize))
	}

	mediaType := mediaTypeOf(resp.Header.Get("Content-Type"))
	if mediaType == "" {
		mediaType = mediaTypeOf(http.DetectContentType(body))
	}

	return &fetched{url: resp.Request.URL.String(), mediaType: mediaType, body: body}, nil
}

// fileNameFor はアップロード時のファイル名を決める。
// URLの末尾を使い、拡張子がなければメディアタイプから補う。
func fileNameFor(rawURL, mediaType string) string {
	name := "import"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	if path.Ext(name) == "" {
		if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
			name += exts[0]
		}
	}
	return name
}
