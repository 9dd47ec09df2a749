package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mavae-gateway/internal/middleware"
	"github.com/hitoshi/mavae-gateway/internal/model"
	"github.com/hitoshi/mavae-gateway/internal/store"
)

// ContentHandler はコンテンツ一覧（フィード・トピック・いいね・プロフィール）と
// いいね・公開範囲の変更を扱うHTTPハンドラー。
type ContentHandler struct {
	views ViewsProvider
	now   func() time.Time
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(views ViewsProvider) *ContentHandler {
	return &ContentHandler{views: views, now: time.Now}
}

// visibilityRequest は公開範囲変更リクエストのボディ。
type visibilityRequest struct {
	Visibility model.Visibility `json:"visibility"`
}

// visibilityResponse は公開範囲変更のレスポンス。
type visibilityResponse struct {
	ID         string           `json:"id"`
	Visibility model.Visibility `json:"visibility"`
}

func (h *ContentHandler) list(w http.ResponseWriter, r *http.Request, s *store.PagedStore[model.ContentItem], resource string) {
	fetchList(w, r, s, resource, contentGrouper(h.now))
}

// Feed は公開フィードを返す。
// GET /api/feed?reset=true&order=created_at&desc=true&source=xxx&grouped=true
func (h *ContentHandler) Feed(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, viewsFor(h.views, r).FeedStore(), "フィード")
}

// Topic はタグごとのコンテンツ一覧を返す。
// GET /api/topics/{tag}
func (h *ContentHandler) Topic(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	h.list(w, r, viewsFor(h.views, r).TopicStore(tag), "トピック")
}

// Liked は閲覧者がいいねしたコンテンツ一覧を返す。
// GET /api/liked
func (h *ContentHandler) Liked(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, viewsFor(h.views, r).LikedStore(), "いいね一覧")
}

// UserContents はユーザーのコンテンツ一覧を返す。
// GET /api/users/{did}/contents
func (h *ContentHandler) UserContents(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	h.list(w, r, viewsFor(h.views, r).UserContentStore(did), "ユーザー")
}

// Like はコンテンツにいいねする。
// POST /api/contents/{id}/like
func (h *ContentHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.setLike(w, r, true)
}

// Unlike はコンテンツのいいねを取り消す。
// DELETE /api/contents/{id}/like
func (h *ContentHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	h.setLike(w, r, false)
}

func (h *ContentHandler) setLike(w http.ResponseWriter, r *http.Request, liked bool) {
	id := chi.URLParam(r, "id")
	state, err := viewsFor(h.views, r).SetContentLike(r.Context(), id, liked)
	if err != nil {
		handleServiceError(w, err, "コンテンツ", id)
		return
	}
	writeJSON(w, state)
}

// SetVisibility はコンテンツの公開範囲を変更する。
// PUT /api/contents/{id}/visibility
func (h *ContentHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req visibilityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("リクエストボディが不正です"))
		return
	}
	if !req.Visibility.Valid() {
		middleware.WriteAPIError(w, model.NewInvalidVisibilityError(string(req.Visibility)))
		return
	}

	if err := viewsFor(h.views, r).SetContentVisibility(r.Context(), id, req.Visibility); err != nil {
		handleServiceError(w, err, "コンテンツ", id)
		return
	}
	writeJSON(w, visibilityResponse{ID: id, Visibility: req.Visibility})
}
