package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/mavae-gateway/internal/apiclient"
	"github.com/hitoshi/mavae-gateway/internal/middleware"
	"github.com/hitoshi/mavae-gateway/internal/model"
)

const maxTagPageSize = 100

// TagLister はトピック（タグ）一覧を取得する。apiclient.Clientが実装する。
type TagLister interface {
	ListTags(ctx context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.Tag], error)
}

// TagHandler はトピック一覧のHTTPハンドラー。一覧はキャッシュせず上流に問い合わせる。
type TagHandler struct {
	tags TagLister
}

// NewTagHandler はTagHandlerを生成する。
func NewTagHandler(tags TagLister) *TagHandler {
	return &TagHandler{tags: tags}
}

// List はトピック一覧を返す。
// GET /api/topics?page=1&page_size=20
func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), 1)
	if err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("page: 1以上の整数を指定してください"))
		return
	}
	size, err := parsePositiveInt(q.Get("page_size"), 20)
	if err != nil || size > maxTagPageSize {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("page_size: 1〜100の整数を指定してください"))
		return
	}

	res, err := h.tags.ListTags(r.Context(), apiclient.PageParams{Page: page, PageSize: size})
	if err != nil {
		handleServiceError(w, err, "トピック", "")
		return
	}
	writeJSON(w, res)
}

func parsePositiveInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
