package store

import (
	"context"

	"github.com/hitoshi/mavae-gateway/internal/model"
)

// 楽観的更新の種類。メトリクスのラベルにも使う。
const (
	KindContentLike       = "content_like"
	KindModelLike         = "model_like"
	KindWorkflowLike      = "workflow_like"
	KindContentVisibility = "content_visibility"
)

// LikeState はいいね切り替え後の状態。
// Cachedがfalseの場合、対象はどのストアにも読み込まれていない。
type LikeState struct {
	ID        string `json:"id"`
	IsLiked   bool   `json:"is_liked"`
	LikeCount int    `json:"like_count"`
	Cached    bool   `json:"cached"`
}

type likeSnapshot struct {
	liked bool
	count int
}

// applyLike はいいね状態を変更し、件数を増減する（0未満にはしない）。
func applyLike(isLiked *bool, count *int, liked bool) {
	if *isLiked == liked {
		return
	}
	*isLiked = liked
	if liked {
		*count++
	} else if *count > 0 {
		*count--
	}
}

// likeTarget は1つのストア上の対象アイテムへのアクセサ。
type likeTarget struct {
	update func(fn func(isLiked *bool, count *int)) bool
}

// setLike は対象を保持する全ストアに楽観的更新を適用し、上流へ反映する。
func (v *Views) setLike(
	ctx context.Context,
	kind, id string,
	liked bool,
	targets []likeTarget,
	commit func(ctx context.Context) error,
) (LikeState, error) {
	state := LikeState{ID: id, IsLiked: liked}
	prev := make(map[int]likeSnapshot, len(targets))

	apply := func() {
		for i, t := range targets {
			t.update(func(isLiked *bool, count *int) {
				prev[i] = likeSnapshot{liked: *isLiked, count: *count}
				applyLike(isLiked, count, liked)
				if !state.Cached {
					state.Cached = true
					state.IsLiked = *isLiked
					state.LikeCount = *count
				}
			})
		}
	}
	rollback := func() {
		for i, t := range targets {
			p, ok := prev[i]
			if !ok {
				continue
			}
			t.update(func(isLiked *bool, count *int) {
				*isLiked = p.liked
				*count = p.count
			})
		}
	}

	if err := v.toggler.Run(ctx, kind, id, apply, rollback, commit); err != nil {
		return LikeState{}, err
	}
	return state, nil
}

// SetContentLike はコンテンツのいいねを切り替える。
// フィード・いいね一覧・トピック・プロフィールの全ストアに反映する。
func (v *Views) SetContentLike(ctx context.Context, id string, liked bool) (LikeState, error) {
	var targets []likeTarget
	for _, s := range v.contentStores() {
		s := s // go 1.21 ではループ変数がイテレーション間で共有されるため、クロージャ用にコピーする
		targets = append(targets, likeTarget{update: func(fn func(*bool, *int)) bool {
			return s.Update(id, func(c *model.ContentItem) { fn(&c.IsLiked, &c.LikeCount) })
		}})
	}
	return v.setLike(ctx, KindContentLike, id, liked, targets, func(ctx context.Context) error {
		if liked {
			return v.content.LikeContent(ctx, id)
		}
		return v.content.UnlikeContent(ctx, id)
	})
}

// SetModelLike はモデルのいいねを切り替える。
func (v *Views) SetModelLike(ctx context.Context, id string, liked bool) (LikeState, error) {
	var targets []likeTarget
	for _, s := range v.modelStores() {
		s := s // go 1.21 ではループ変数がイテレーション間で共有されるため、クロージャ用にコピーする
		targets = append(targets, likeTarget{update: func(fn func(*bool, *int)) bool {
			return s.Update(id, func(m *model.ModelItem) { fn(&m.IsLiked, &m.LikeCount) })
		}})
	}
	return v.setLike(ctx, KindModelLike, id, liked, targets, func(ctx context.Context) error {
		if liked {
			return v.gallery.LikeModel(ctx, id)
		}
		return v.gallery.UnlikeModel(ctx, id)
	})
}

// SetWorkflowLike はワークフローのいいねを切り替える。詳細キャッシュにも反映する。
func (v *Views) SetWorkflowLike(ctx context.Context, id string, liked bool) (LikeState, error) {
	var targets []likeTarget
	for _, s := range v.workflowStores() {
		s := s // go 1.21 ではループ変数がイテレーション間で共有されるため、クロージャ用にコピーする
		targets = append(targets, likeTarget{update: func(fn func(*bool, *int)) bool {
			return s.Update(id, func(w *model.WorkflowItem) { fn(&w.IsLiked, &w.LikeCount) })
		}})
	}
	targets = append(targets, likeTarget{update: func(fn func(*bool, *int)) bool {
		return v.details.Update(id, func(d *model.WorkflowDetail) { fn(&d.IsLiked, &d.LikeCount) })
	}})
	return v.setLike(ctx, KindWorkflowLike, id, liked, targets, func(ctx context.Context) error {
		if liked {
			return v.gallery.LikeWorkflow(ctx, id)
		}
		return v.gallery.UnlikeWorkflow(ctx, id)
	})
}

// SetContentVisibility はコンテンツの公開範囲を変更する。
// 失敗した場合は各ストアの変更前の値に戻す。
func (v *Views) SetContentVisibility(ctx context.Context, id string, vis model.Visibility) error {
	stores := v.contentStores()
	prev := make(map[int]model.Visibility, len(stores))

	apply := func() {
		for i, s := range stores {
			s.Update(id, func(c *model.ContentItem) {
				prev[i] = c.Visibility
				c.Visibility = vis
			})
		}
	}
	rollback := func() {
		for i, s := range stores {
			p, ok := prev[i]
			if !ok {
				continue
			}
			s.Update(id, func(c *model.ContentItem) { c.Visibility = p })
		}
	}

	return v.toggler.Run(ctx, KindContentVisibility, id, apply, rollback, func(ctx context.Context) error {
		return v.content.SetContentVisibility(ctx, id, vis)
	})
}
