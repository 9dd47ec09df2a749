package store

import (
	"context"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/hitoshi/mavae-gateway/internal/apiclient"
	"github.com/hitoshi/mavae-gateway/internal/model"
)

// ContentAPI はコンテンツ系の上流API（/mavae_api）。
type ContentAPI interface {
	ListContents(ctx context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.ContentItem], error)
	ListLikedContents(ctx context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.ContentItem], error)
	ListUserContents(ctx context.Context, did string, p apiclient.PageParams) (*apiclient.ListResult[model.ContentItem], error)
	ListTopicContents(ctx context.Context, tag string, p apiclient.PageParams) (*apiclient.ListResult[model.ContentItem], error)
	LikeContent(ctx context.Context, id string) error
	UnlikeContent(ctx context.Context, id string) error
	SetContentVisibility(ctx context.Context, id string, vis model.Visibility) error
	GetUser(ctx context.Context, did string) (*model.UserProfile, error)
}

// GalleryAPI はモデル・ワークフロー系の上流API（/studio-api）。
type GalleryAPI interface {
	ListModels(ctx context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.ModelItem], error)
	ListUserModels(ctx context.Context, did string, p apiclient.PageParams) (*apiclient.ListResult[model.ModelItem], error)
	LikeModel(ctx context.Context, id string) error
	UnlikeModel(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.WorkflowItem], error)
	ListUserWorkflows(ctx context.Context, did string, p apiclient.PageParams) (*apiclient.ListResult[model.WorkflowItem], error)
	GetWorkflow(ctx context.Context, id string) (*model.WorkflowDetail, error)
	LikeWorkflow(ctx context.Context, id string) error
	UnlikeWorkflow(ctx context.Context, id string) error
}

// TextSanitizer は上流から受け取ったテキストを無害化する。
type TextSanitizer interface {
	Sanitize(rawHTML string) string
	SanitizeText(raw string) string
}

// Views は1人の閲覧者が持つストア一式。
type Views struct {
	content   ContentAPI
	gallery   GalleryAPI
	sanitizer TextSanitizer
	opts      Options
	toggler   *Toggler

	feed      *PagedStore[model.ContentItem]
	liked     *PagedStore[model.ContentItem]
	models    *PagedStore[model.ModelItem]
	workflows *PagedStore[model.WorkflowItem]
	users     *EntityCache[model.UserProfile]
	details   *EntityCache[model.WorkflowDetail]

	mu            sync.Mutex
	topics        *keyedStores[model.ContentItem]
	userContents  *keyedStores[model.ContentItem]
	userModels    *keyedStores[model.ModelItem]
	userWorkflows *keyedStores[model.WorkflowItem]
}

// NewViews は閲覧者用のストア一式を生成する。
// sanitizerがnilの場合はテキストをそのまま保持する。
func NewViews(content ContentAPI, gallery GalleryAPI, sanitizer TextSanitizer, opts Options) *Views {
	opts = opts.withDefaults()
	v := &Views{
		content:       content,
		gallery:       gallery,
		sanitizer:     sanitizer,
		opts:          opts,
		toggler:       NewToggler(opts.Metrics, opts.Logger),
		topics:        newKeyedStores[model.ContentItem](opts.MaxKeyedStores),
		userContents:  newKeyedStores[model.ContentItem](opts.MaxKeyedStores),
		userModels:    newKeyedStores[model.ModelItem](opts.MaxKeyedStores),
		userWorkflows: newKeyedStores[model.WorkflowItem](opts.MaxKeyedStores),
	}

	v.feed = newContentStore(v, "feed", content.ListContents)
	v.liked = newContentStore(v, "liked", content.ListLikedContents)
	v.models = newModelStore(v, "models", gallery.ListModels)
	v.workflows = newWorkflowStore(v, "workflows", gallery.ListWorkflows)

	v.users = NewEntityCache[model.UserProfile](v.domain("users"), func(ctx context.Context, did string) (model.UserProfile, error) {
		u, err := content.GetUser(ctx, did)
		if err != nil {
			return model.UserProfile{}, err
		}
		v.cleanUser(&u.UserSummary)
		u.Bio = v.cleanHTML(u.Bio)
		return *u, nil
	})
	v.details = NewEntityCache[model.WorkflowDetail](v.domain("workflow_detail"), func(ctx context.Context, id string) (model.WorkflowDetail, error) {
		d, err := gallery.GetWorkflow(ctx, id)
		if err != nil {
			return model.WorkflowDetail{}, err
		}
		v.cleanWorkflow(&d.WorkflowItem)
		return *d, nil
	})
	return v
}

func (v *Views) domain(name string) Options {
	o := v.opts
	o.Domain = name
	return o
}

// FeedStore は公開フィードのストアを返す。
func (v *Views) FeedStore() *PagedStore[model.ContentItem] { return v.feed }

// LikedStore はいいね一覧のストアを返す。
func (v *Views) LikedStore() *PagedStore[model.ContentItem] { return v.liked }

// ModelStore はモデルギャラリーのストアを返す。
func (v *Views) ModelStore() *PagedStore[model.ModelItem] { return v.models }

// WorkflowStore はワークフローギャラリーのストアを返す。
func (v *Views) WorkflowStore() *PagedStore[model.WorkflowItem] { return v.workflows }

// Users はプロフィールヘッダーのキャッシュを返す。
func (v *Views) Users() *EntityCache[model.UserProfile] { return v.users }

// WorkflowDetails はワークフロー詳細のキャッシュを返す。
func (v *Views) WorkflowDetails() *EntityCache[model.WorkflowDetail] { return v.details }

// TopicStore はタグごとのストアを返す。初回アクセス時に生成する。
func (v *Views) TopicStore(tag string) *PagedStore[model.ContentItem] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.topics.get(tag, func() *PagedStore[model.ContentItem] {
		return newContentStore(v, "topic", func(ctx context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.ContentItem], error) {
			return v.content.ListTopicContents(ctx, tag, p)
		})
	})
}

// UserContentStore はユーザーごとのコンテンツ一覧ストアを返す。
func (v *Views) UserContentStore(did string) *PagedStore[model.ContentItem] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.userContents.get(did, func() *PagedStore[model.ContentItem] {
		return newContentStore(v, "profile_contents", func(ctx context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.ContentItem], error) {
			return v.content.ListUserContents(ctx, did, p)
		})
	})
}

// UserModelStore はユーザーごとのモデル一覧ストアを返す。
func (v *Views) UserModelStore(did string) *PagedStore[model.ModelItem] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.userModels.get(did, func() *PagedStore[model.ModelItem] {
		return newModelStore(v, "profile_models", func(ctx context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.ModelItem], error) {
			return v.gallery.ListUserModels(ctx, did, p)
		})
	})
}

// UserWorkflowStore はユーザーごとのワークフロー一覧ストアを返す。
func (v *Views) UserWorkflowStore(did string) *PagedStore[model.WorkflowItem] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.userWorkflows.get(did, func() *PagedStore[model.WorkflowItem] {
		return newWorkflowStore(v, "profile_workflows", func(ctx context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.WorkflowItem], error) {
			return v.gallery.ListUserWorkflows(ctx, did, p)
		})
	})
}

// keyedStores はタグやユーザーごとのストアを上限付きで保持する。
// 上限を超えると最も長く使われていないストアから捨てる。ロックは呼び出し側（Views.mu）が持つ。
type keyedStores[T any] struct {
	order  *lru.Cache
	stores map[string]*PagedStore[T]
}

func newKeyedStores[T any](maxEntries int) *keyedStores[T] {
	k := &keyedStores[T]{
		order:  lru.New(maxEntries),
		stores: make(map[string]*PagedStore[T]),
	}
	k.order.OnEvicted = func(key lru.Key, _ interface{}) {
		delete(k.stores, key.(string))
	}
	return k
}

func (k *keyedStores[T]) get(key string, create func() *PagedStore[T]) *PagedStore[T] {
	if _, ok := k.order.Get(key); ok {
		return k.stores[key]
	}
	s := create()
	k.stores[key] = s
	k.order.Add(key, struct{}{})
	return s
}

func (k *keyedStores[T]) len() int { return len(k.stores) }

type listFunc[T any] func(ctx context.Context, p apiclient.PageParams) (*apiclient.ListResult[T], error)

// pageFetcher はlistFuncをPagedStore用のFetchFuncに変換する。
func pageFetcher[T any](list listFunc[T], clean func(*T)) FetchFunc[T] {
	return func(ctx context.Context, q Query, page, pageSize int) (Page[T], error) {
		res, err := list(ctx, apiclient.PageParams{
			Page:     page,
			PageSize: pageSize,
			Order:    q.Order,
			Desc:     q.Desc,
			Filters:  q.Filters,
		})
		if err != nil {
			return Page[T]{}, err
		}
		for i := range res.Items {
			clean(&res.Items[i])
		}
		return Page[T]{Items: res.Items, Total: res.Total}, nil
	}
}

func newContentStore(v *Views, domain string, list listFunc[model.ContentItem]) *PagedStore[model.ContentItem] {
	return NewPagedStore(v.domain(domain), pageFetcher(list, v.cleanContent), func(c model.ContentItem) string { return c.ID })
}

func newModelStore(v *Views, domain string, list listFunc[model.ModelItem]) *PagedStore[model.ModelItem] {
	return NewPagedStore(v.domain(domain), pageFetcher(list, v.cleanModel), func(m model.ModelItem) string { return m.ID })
}

func newWorkflowStore(v *Views, domain string, list listFunc[model.WorkflowItem]) *PagedStore[model.WorkflowItem] {
	return NewPagedStore(v.domain(domain), pageFetcher(list, v.cleanWorkflow), func(w model.WorkflowItem) string { return w.ID })
}

func (v *Views) cleanHTML(s string) string {
	if v.sanitizer == nil || s == "" {
		return s
	}
	return v.sanitizer.Sanitize(s)
}

func (v *Views) cleanText(s string) string {
	if v.sanitizer == nil || s == "" {
		return s
	}
	return v.sanitizer.SanitizeText(s)
}

func (v *Views) cleanUser(u *model.UserSummary) {
	u.Name = v.cleanText(u.Name)
}

func (v *Views) cleanContent(c *model.ContentItem) {
	c.Description = v.cleanHTML(c.Description)
	v.cleanUser(&c.User)
}

func (v *Views) cleanModel(m *model.ModelItem) {
	m.Name = v.cleanText(m.Name)
	m.Description = v.cleanHTML(m.Description)
	v.cleanUser(&m.User)
}

func (v *Views) cleanWorkflow(w *model.WorkflowItem) {
	w.Name = v.cleanText(w.Name)
	w.Description = v.cleanHTML(w.Description)
	v.cleanUser(&w.User)
}

// contentStores はコンテンツを保持する全ストアを返す。
func (v *Views) contentStores() []*PagedStore[model.ContentItem] {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := []*PagedStore[model.ContentItem]{v.feed, v.liked}
	for _, s := range v.topics.stores {
		out = append(out, s)
	}
	for _, s := range v.userContents.stores {
		out = append(out, s)
	}
	return out
}

func (v *Views) modelStores() []*PagedStore[model.ModelItem] {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := []*PagedStore[model.ModelItem]{v.models}
	for _, s := range v.userModels.stores {
		out = append(out, s)
	}
	return out
}

func (v *Views) workflowStores() []*PagedStore[model.WorkflowItem] {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := []*PagedStore[model.WorkflowItem]{v.workflows}
	for _, s := range v.userWorkflows.stores {
		out = append(out, s)
	}
	return out
}
