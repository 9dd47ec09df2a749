package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/mavae-gateway/internal/media"
	"github.com/hitoshi/mavae-gateway/internal/middleware"
	"github.com/hitoshi/mavae-gateway/internal/model"
)

// MediaImporter は外部URLの画像を取り込む。media.Importerが実装する。
type MediaImporter interface {
	Import(ctx context.Context, up media.Uploader, rawURL string) (*media.Result, error)
}

// UploaderFactory は閲覧者のトークンでアップロードするUploaderを返す。
type UploaderFactory func(token string) media.Uploader

// FilesHandler はファイルAPIのHTTPハンドラー。
type FilesHandler struct {
	importer  MediaImporter
	uploaders UploaderFactory
}

// NewFilesHandler はFilesHandlerを生成する。
func NewFilesHandler(importer MediaImporter, uploaders UploaderFactory) *FilesHandler {
	return &FilesHandler{importer: importer, uploaders: uploaders}
}

type importRequest struct {
	URL string `json:"url"`
}

// Import は外部URLの画像をファイルAPIに取り込む。
// POST /api/files/import {"url": "https://..."}
func (h *FilesHandler) Import(w http.ResponseWriter, r *http.Request) {
	viewer, ok := middleware.ViewerFromContext(r.Context())
	if !ok {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	var req importRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("リクエストボディが不正です"))
		return
	}
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		middleware.WriteAPIError(w, model.NewInvalidURLError("URLが指定されていません"))
		return
	}

	res, err := h.importer.Import(r.Context(), h.uploaders(viewer.AccessToken), rawURL)
	if err != nil {
		handleServiceError(w, err, "ファイル", rawURL)
		return
	}
	writeJSON(w, res)
}
