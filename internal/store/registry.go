package store

import (
	"log/slog"
	"sync"
	"time"
)

// AnonymousViewer は未ログインの閲覧者が共有するID。
const AnonymousViewer = "anon"

// ViewsFactory は閲覧者のトークンに紐づくViewsを生成する。
// tokenが空の場合はサービス用のトークンを使う。
type ViewsFactory func(token string) *Views

type viewerEntry struct {
	views    *Views
	token    string
	lastSeen time.Time
}

// Registry は閲覧者IDごとのViewsを管理する。
// 一定時間アクセスの無い閲覧者のストアはバックグラウンドで破棄する。
type Registry struct {
	factory         ViewsFactory
	idleTTL         time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	mu      sync.Mutex
	viewers map[string]*viewerEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry は新しいRegistryを生成し、クリーンアップを開始する。
func NewRegistry(factory ViewsFactory, idleTTL time.Duration) *Registry {
	r := newRegistry(factory, idleTTL, time.Now)
	go r.cleanupLoop()
	return r
}

func newRegistry(factory ViewsFactory, idleTTL time.Duration, now func() time.Time) *Registry {
	interval := idleTTL / 2
	if interval <= 0 || interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return &Registry{
		factory:         factory,
		idleTTL:         idleTTL,
		cleanupInterval: interval,
		now:             now,
		viewers:         make(map[string]*viewerEntry),
		stopCh:          make(chan struct{}),
	}
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Get は閲覧者のViewsを返す。無ければtokenを使って生成する。
// 再ログインなどでtokenが変わった場合は、古いtokenのViewsを捨てて作り直す。
// viewerIDが空の場合は匿名閲覧者のViewsを返す。
func (r *Registry) Get(viewerID, token string) *Views {
	if viewerID == "" {
		viewerID = AnonymousViewer
		token = ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.viewers[viewerID]
	if !ok || e.token != token {
		e = &viewerEntry{views: r.factory(token), token: token}
		r.viewers[viewerID] = e
	}
	e.lastSeen = r.now()
	return e.views
}

// Anonymous は匿名閲覧者のViewsを返す。
func (r *Registry) Anonymous() *Views {
	return r.Get("", "")
}

// Forget は閲覧者のViewsを破棄する。ログアウト時に使う。
func (r *Registry) Forget(viewerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.viewers, viewerID)
}

// Len は管理中の閲覧者数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

// EvictIdle はidleTTL以上アクセスの無い閲覧者を破棄し、破棄した数を返す。
// 匿名閲覧者はウォームアップ対象のため破棄しない。
func (r *Registry) EvictIdle() int {
	threshold := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.viewers {
		if id == AnonymousViewer {
			continue
		}
		if e.lastSeen.Before(threshold) {
			delete(r.viewers, id)
			evicted++
		}
	}
	return evicted
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.EvictIdle(); n > 0 {
				slog.Info("evicted idle viewers", slog.Int("count", n))
			}
		case <-r.stopCh:
			return
		}
	}
}
