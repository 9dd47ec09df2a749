// Package store は閲覧者ごとのページング付きTTLキャッシュ（ストア）を提供する。
// フィード・ギャラリー・プロフィール・トピック・いいね一覧がそれぞれ1つのストアを持つ。
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/mavae-gateway/internal/metrics"
)

// Page は上流から取得した1ページ分の結果。
type Page[T any] struct {
	Items []T
	Total int
}

// FetchFunc は指定ページを上流から取得する関数。
type FetchFunc[T any] func(ctx context.Context, q Query, page, pageSize int) (Page[T], error)

// Snapshot はストアの状態のコピー（BaseContentsState）。
type Snapshot[T any] struct {
	Items     []T               `json:"items"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	PageSize  int               `json:"page_size"`
	Order     string            `json:"order,omitempty"`
	Desc      bool              `json:"desc"`
	Filters   map[string]string `json:"filters,omitempty"`
	Loading   bool              `json:"loading"`
	Error     string            `json:"error,omitempty"`
	HasMore   bool              `json:"has_more"`
	LastFetch time.Time         `json:"last_fetch"`
}

// Options はストア共通の設定。
type Options struct {
	Domain         string // メトリクス・ログ用のドメイン名（feed, models など）
	TTL            time.Duration
	PageSize       int
	MaxKeyedStores int // タグ・ユーザーごとに保持するストアの上限（種類ごと）
	Metrics        metrics.MetricsCollector
	Logger         *slog.Logger
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	if o.MaxKeyedStores <= 0 {
		o.MaxKeyedStores = 256
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// PagedStore は1つのドメインのページング付き一覧をキャッシュする。
// リセット取得はTTL内かつ同一条件ならキャッシュを返し、追加取得は未登録IDのみ追記する。
type PagedStore[T any] struct {
	opts  Options
	fetch FetchFunc[T]
	keyOf func(T) string
	group singleflight.Group

	mu        sync.Mutex
	items     []T
	total     int
	page      int
	query     Query
	key       string
	loading   bool
	errMsg    string
	hasMore   bool
	lastFetch time.Time
	lastOK    bool

	// gen は条件の異なるリセットのたびに進み、古い取得の結果を破棄するのに使う
	gen          uint64
	resetting    bool
	resettingKey string
}

// NewPagedStore はPagedStoreを生成する。keyOfはアイテムのID（content_id等）を返す。
func NewPagedStore[T any](opts Options, fetch FetchFunc[T], keyOf func(T) string) *PagedStore[T] {
	return &PagedStore[T]{
		opts:    opts.withDefaults(),
		fetch:   fetch,
		keyOf:   keyOf,
		hasMore: true,
	}
}

// Fetch は一覧を取得する。resetがtrueなら1ページ目から取り直し、falseなら次のページを追記する。
func (s *PagedStore[T]) Fetch(ctx context.Context, reset bool, q Query) (Snapshot[T], error) {
	return s.load(ctx, reset, false, q)
}

// Refresh はTTLを無視して1ページ目から取り直す。
func (s *PagedStore[T]) Refresh(ctx context.Context, q Query) (Snapshot[T], error) {
	return s.load(ctx, true, true, q)
}

func (s *PagedStore[T]) load(ctx context.Context, reset, force bool, q Query) (Snapshot[T], error) {
	q = q.clone()
	key := q.Key()

	s.mu.Lock()
	// 1. TTL内・同一条件のリセットはキャッシュを返す
	if reset && !force && s.cacheValidLocked(key) {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.opts.Metrics.RecordCacheHit(s.opts.Domain)
		return snap, nil
	}

	// 2. 条件が変わった追加取得、未取得状態での追加取得はリセットとして扱う
	if !reset && (s.page == 0 || key != s.key) {
		reset = true
	}

	if !reset {
		// 3. リセット中または続きが無い場合は現在の状態を返す
		if s.resetting || !s.hasMore {
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, nil
		}
	}

	// 4. 取得するページを決める
	page := s.page + 1
	if reset {
		page = 1
		if !s.resetting || s.resettingKey != key {
			s.gen++
		}
		s.resetting = true
		s.resettingKey = key
	}
	gen := s.gen
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()

	s.opts.Metrics.RecordCacheMiss(s.opts.Domain)

	// 同一世代・同一条件・同一ページの実行中リクエストは共有する。
	// 世代が進んだ後の呼び出しは、破棄される予定の古い取得には相乗りしない。
	// 呼び出し元がキャンセルしても取得自体は完了させてストアに反映する。
	flightKey := fmt.Sprintf("%s|page=%d|reset=%t|gen=%d", key, page, reset, gen)
	led := false
	ch := s.group.DoChan(flightKey, func() (any, error) {
		led = true
		fetchCtx := context.WithoutCancel(ctx)
		res, err := s.fetch(fetchCtx, q, page, s.opts.PageSize)
		return s.apply(gen, reset, q, key, page, res, err)
	})

	select {
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	case r := <-ch:
		if r.Shared && !led {
			s.opts.Metrics.RecordDedupShared(s.opts.Domain)
		}
		snap, _ := r.Val.(Snapshot[T])
		return snap, r.Err
	}
}

// apply は取得結果をストアに反映する。
func (s *PagedStore[T]) apply(gen uint64, reset bool, q Query, key string, page int, res Page[T], err error) (Snapshot[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 8. 取得中に新しいリセットが発行された場合は結果を破棄する
	if gen != s.gen {
		s.opts.Logger.Debug("discarding stale page",
			slog.String("domain", s.opts.Domain),
			slog.Int("page", page),
		)
		return s.snapshotLocked(), nil
	}
	if reset {
		s.resetting = false
		s.resettingKey = ""
	}

	if err != nil {
		s.loading = false
		s.errMsg = err.Error()
		s.lastOK = false
		s.opts.Logger.Warn("failed to fetch page",
			slog.String("domain", s.opts.Domain),
			slog.Int("page", page),
			slog.String("error", err.Error()),
		)
		return s.snapshotLocked(), err
	}

	// 5. リセットは置き換え、追加取得は未登録IDのみ追記する
	if reset {
		s.items = s.appendUnique(nil, res.Items)
		s.query = q
		s.key = key
		// 7. lastFetchはリセット時のみ更新する
		s.lastFetch = s.opts.Now()
	} else {
		s.items = s.appendUnique(s.items, res.Items)
	}
	s.page = page
	s.total = res.Total

	// 6. 件数が総数に満たない間は続きがある。空ページが返ったら打ち切る。
	s.hasMore = len(res.Items) > 0 && len(s.items) < s.total
	s.loading = false
	s.errMsg = ""
	s.lastOK = true

	return s.snapshotLocked(), nil
}

func (s *PagedStore[T]) appendUnique(dst []T, src []T) []T {
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, it := range dst {
		seen[s.keyOf(it)] = struct{}{}
	}
	for _, it := range src {
		id := s.keyOf(it)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, it)
	}
	return dst
}

func (s *PagedStore[T]) cacheValidLocked(key string) bool {
	if !s.lastOK || s.lastFetch.IsZero() || key != s.key {
		return false
	}
	return s.opts.Now().Sub(s.lastFetch) < s.opts.TTL
}

// Snapshot は現在の状態のコピーを返す。
func (s *PagedStore[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *PagedStore[T]) snapshotLocked() Snapshot[T] {
	items := make([]T, len(s.items))
	copy(items, s.items)

	var filters map[string]string
	if len(s.query.Filters) > 0 {
		filters = make(map[string]string, len(s.query.Filters))
		for k, v := range s.query.Filters {
			filters[k] = v
		}
	}

	return Snapshot[T]{
		Items:     items,
		Total:     s.total,
		Page:      s.page,
		PageSize:  s.opts.PageSize,
		Order:     s.query.Order,
		Desc:      s.query.Desc,
		Filters:   filters,
		Loading:   s.loading,
		Error:     s.errMsg,
		HasMore:   s.hasMore && s.page > 0,
		LastFetch: s.lastFetch,
	}
}

// Find はIDに一致するアイテムを返す。
func (s *PagedStore[T]) Find(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if s.keyOf(it) == id {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// Update はIDに一致するアイテムをfnで書き換える。見つかった場合はtrueを返す。
func (s *PagedStore[T]) Update(id string, fn func(*T)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.keyOf(s.items[i]) == id {
			fn(&s.items[i])
			return true
		}
	}
	return false
}

// Invalidate はキャッシュを無効化する。次のリセット取得は必ず上流へ問い合わせる。
func (s *PagedStore[T]) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOK = false
	s.lastFetch = time.Time{}
}
