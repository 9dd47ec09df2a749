package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mavae-gateway/internal/middleware"
	"github.com/hitoshi/mavae-gateway/internal/model"
	"github.com/hitoshi/mavae-gateway/internal/store"
)

// GalleryHandler はモデル・ワークフローのギャラリーとユーザープロフィールのHTTPハンドラー。
type GalleryHandler struct {
	views ViewsProvider
}

// NewGalleryHandler はGalleryHandlerを生成する。
func NewGalleryHandler(views ViewsProvider) *GalleryHandler {
	return &GalleryHandler{views: views}
}

// Models はモデルギャラリーを返す。
// GET /api/gallery/models
func (h *GalleryHandler) Models(w http.ResponseWriter, r *http.Request) {
	fetchList[model.ModelItem](w, r, viewsFor(h.views, r).ModelStore(), "モデル", nil)
}

// Workflows はワークフローギャラリーを返す。
// GET /api/gallery/workflows
func (h *GalleryHandler) Workflows(w http.ResponseWriter, r *http.Request) {
	fetchList[model.WorkflowItem](w, r, viewsFor(h.views, r).WorkflowStore(), "ワークフロー", nil)
}

// UserModels はユーザーのモデル一覧を返す。
// GET /api/users/{did}/models
func (h *GalleryHandler) UserModels(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	fetchList[model.ModelItem](w, r, viewsFor(h.views, r).UserModelStore(did), "ユーザー", nil)
}

// UserWorkflows はユーザーのワークフロー一覧を返す。
// GET /api/users/{did}/workflows
func (h *GalleryHandler) UserWorkflows(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	fetchList[model.WorkflowItem](w, r, viewsFor(h.views, r).UserWorkflowStore(did), "ユーザー", nil)
}

// User はプロフィールヘッダーを返す。
// GET /api/users/{did}?refresh=true
func (h *GalleryHandler) User(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	refresh, apiErr := parseBoolParam(r.URL.Query().Get("refresh"), "refresh", false)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	u, err := viewsFor(h.views, r).Users().Get(r.Context(), did, refresh)
	if err != nil {
		handleServiceError(w, err, "ユーザー", did)
		return
	}
	writeJSON(w, u)
}

// Workflow はワークフロー詳細を返す。
// GET /api/workflows/{id}?refresh=true
func (h *GalleryHandler) Workflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	refresh, apiErr := parseBoolParam(r.URL.Query().Get("refresh"), "refresh", false)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	d, err := viewsFor(h.views, r).WorkflowDetails().Get(r.Context(), id, refresh)
	if err != nil {
		handleServiceError(w, err, "ワークフロー", id)
		return
	}
	writeJSON(w, d)
}

// LikeModel はモデルにいいねする。
// POST /api/models/{id}/like
func (h *GalleryHandler) LikeModel(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "モデル", true, (*store.Views).SetModelLike)
}

// UnlikeModel はモデルのいいねを取り消す。
// DELETE /api/models/{id}/like
func (h *GalleryHandler) UnlikeModel(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "モデル", false, (*store.Views).SetModelLike)
}

// LikeWorkflow はワークフローにいいねする。詳細キャッシュにも反映する。
// POST /api/workflows/{id}/like
func (h *GalleryHandler) LikeWorkflow(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "ワークフロー", true, (*store.Views).SetWorkflowLike)
}

// UnlikeWorkflow はワークフローのいいねを取り消す。
// DELETE /api/workflows/{id}/like
func (h *GalleryHandler) UnlikeWorkflow(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "ワークフロー", false, (*store.Views).SetWorkflowLike)
}

type likeSetter func(v *store.Views, ctx context.Context, id string, liked bool) (store.LikeState, error)

func (h *GalleryHandler) toggle(w http.ResponseWriter, r *http.Request, resource string, liked bool, set likeSetter) {
	id := chi.URLParam(r, "id")
	state, err := set(viewsFor(h.views, r), r.Context(), id, liked)
	if err != nil {
		handleServiceError(w, err, resource, id)
		return
	}
	writeJSON(w, state)
}
