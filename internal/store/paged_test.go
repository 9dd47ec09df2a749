package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testItem struct {
	ID    string
	Liked bool
}

func testKey(i testItem) string { return i.ID }

// fakeClock はテスト用の時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// pagedServer は total 件のアイテムを pageSize ごとに返す偽の上流。
type pagedServer struct {
	mu     sync.Mutex
	total  int
	prefix string
	calls  []int
	err    error
}

func (p *pagedServer) fetch(ctx context.Context, q Query, page, pageSize int) (Page[testItem], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, page)
	if p.err != nil {
		return Page[testItem]{}, p.err
	}
	var items []testItem
	start := (page - 1) * pageSize
	for i := start; i < start+pageSize && i < p.total; i++ {
		items = append(items, testItem{ID: fmt.Sprintf("%s%d", p.prefix, i)})
	}
	return Page[testItem]{Items: items, Total: p.total}, nil
}

func (p *pagedServer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newTestStore(fetch FetchFunc[testItem], clock *fakeClock) *PagedStore[testItem] {
	return NewPagedStore(Options{
		Domain:   "test",
		TTL:      5 * time.Minute,
		PageSize: 10,
		Now:      clock.Now,
	}, fetch, testKey)
}

func assertUniqueIDs(t *testing.T, items []testItem) {
	t.Helper()
	seen := map[string]bool{}
	for _, it := range items {
		if seen[it.ID] {
			t.Errorf("duplicate id %s", it.ID)
		}
		seen[it.ID] = true
	}
}

func TestPagedStore_ResetReplacesWithPage(t *testing.T) {
	srv := &pagedServer{total: 25}
	s := newTestStore(srv.fetch, newFakeClock())
	ctx := context.Background()

	snap, err := s.Fetch(ctx, true, Query{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.Items) != 10 || snap.Page != 1 || snap.Total != 25 || !snap.HasMore {
		t.Errorf("snapshot = items %d page %d total %d hasMore %v", len(snap.Items), snap.Page, snap.Total, snap.HasMore)
	}
	if snap.LastFetch.IsZero() {
		t.Error("リセット取得でlastFetchが記録されていない")
	}

	// 続きを読み込んだ後のリセットは1ページ分に戻る
	if _, err := s.Fetch(ctx, false, Query{}); err != nil {
		t.Fatal(err)
	}
	snap, err = s.Refresh(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Items) != 10 || snap.Page != 1 {
		t.Errorf("after reset: items %d page %d, want 10/1", len(snap.Items), snap.Page)
	}
}

func TestPagedStore_LoadMoreAppendsUniqueUntilExhausted(t *testing.T) {
	srv := &pagedServer{total: 25}
	s := newTestStore(srv.fetch, newFakeClock())
	ctx := context.Background()

	if _, err := s.Fetch(ctx, true, Query{}); err != nil {
		t.Fatal(err)
	}
	snap, err := s.Fetch(ctx, false, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Items) != 20 || snap.Page != 2 || !snap.HasMore {
		t.Errorf("page 2: items %d page %d hasMore %v", len(snap.Items), snap.Page, snap.HasMore)
	}

	snap, err = s.Fetch(ctx, false, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Items) != 25 || snap.HasMore {
		t.Errorf("page 3: items %d hasMore %v, want 25/false", len(snap.Items), snap.HasMore)
	}
	assertUniqueIDs(t, snap.Items)

	// 続きが無い場合は上流へ問い合わせない
	before := srv.callCount()
	if _, err := s.Fetch(ctx, false, Query{}); err != nil {
		t.Fatal(err)
	}
	if srv.callCount() != before {
		t.Errorf("hasMore=false で取得が行われた: calls %d -> %d", before, srv.callCount())
	}
}

func TestPagedStore_LoadMoreSkipsDuplicateIDs(t *testing.T) {
	// 2ページ目は1ページ目と重複するアイテムを含む
	fetch := func(ctx context.Context, q Query, page, pageSize int) (Page[testItem], error) {
		if page == 1 {
			return Page[testItem]{Items: []testItem{{ID: "a"}, {ID: "b"}, {ID: "b"}}, Total: 10}, nil
		}
		return Page[testItem]{Items: []testItem{{ID: "b"}, {ID: "c"}}, Total: 10}, nil
	}
	s := newTestStore(fetch, newFakeClock())
	ctx := context.Background()

	snap, _ := s.Fetch(ctx, true, Query{})
	if len(snap.Items) != 2 {
		t.Errorf("reset items = %d, want 2 (ページ内の重複を除外)", len(snap.Items))
	}
	snap, _ = s.Fetch(ctx, false, Query{})
	if len(snap.Items) != 3 {
		t.Errorf("load-more items = %d, want 3", len(snap.Items))
	}
	assertUniqueIDs(t, snap.Items)
}

func TestPagedStore_EmptyPageStopsPaging(t *testing.T) {
	fetch := func(ctx context.Context, q Query, page, pageSize int) (Page[testItem], error) {
		if page == 1 {
			return Page[testItem]{Items: []testItem{{ID: "a"}}, Total: 50}, nil
		}
		return Page[testItem]{Total: 50}, nil
	}
	s := newTestStore(fetch, newFakeClock())
	ctx := context.Background()

	s.Fetch(ctx, true, Query{})
	snap, _ := s.Fetch(ctx, false, Query{})
	if snap.HasMore {
		t.Error("空ページが返ったらhasMoreはfalseになるべき")
	}
}

func TestPagedStore_CacheOnlyForResetWithinTTLAndSameQuery(t *testing.T) {
	srv := &pagedServer{total: 30}
	clock := newFakeClock()
	s := newTestStore(srv.fetch, clock)
	ctx := context.Background()
	q := Query{Order: "created_at", Desc: true, Filters: map[string]string{"source": "mavae"}}

	s.Fetch(ctx, true, q)
	clock.Advance(time.Minute)

	// 同一条件・TTL内 → キャッシュ
	s.Fetch(ctx, true, Query{Order: "created_at", Desc: true, Filters: map[string]string{"source": "mavae"}})
	if srv.callCount() != 1 {
		t.Errorf("TTL内の同一条件リセットで取得が行われた: calls = %d", srv.callCount())
	}

	// 条件が変わればキャッシュを使わない
	s.Fetch(ctx, true, Query{Order: "created_at", Desc: false, Filters: map[string]string{"source": "mavae"}})
	if srv.callCount() != 2 {
		t.Errorf("条件変更後も取得が行われるべき: calls = %d", srv.callCount())
	}

	// TTL切れ
	clock.Advance(10 * time.Minute)
	s.Fetch(ctx, true, Query{Order: "created_at", Desc: false, Filters: map[string]string{"source": "mavae"}})
	if srv.callCount() != 3 {
		t.Errorf("TTL切れ後は取得が行われるべき: calls = %d", srv.callCount())
	}
}

func TestPagedStore_LastFetchStampedOnlyOnReset(t *testing.T) {
	srv := &pagedServer{total: 30}
	clock := newFakeClock()
	s := newTestStore(srv.fetch, clock)
	ctx := context.Background()

	first, _ := s.Fetch(ctx, true, Query{})
	clock.Advance(time.Minute)
	more, _ := s.Fetch(ctx, false, Query{})

	if !more.LastFetch.Equal(first.LastFetch) {
		t.Errorf("追加取得でlastFetchが更新された: %v -> %v", first.LastFetch, more.LastFetch)
	}
}

func TestPagedStore_QueryChangeOnLoadMoreIsPromotedToReset(t *testing.T) {
	srv := &pagedServer{total: 30}
	s := newTestStore(srv.fetch, newFakeClock())
	ctx := context.Background()

	s.Fetch(ctx, true, Query{Order: "created_at"})
	s.Fetch(ctx, false, Query{Order: "created_at"})

	snap, err := s.Fetch(ctx, false, Query{Order: "like_count"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Page != 1 || len(snap.Items) != 10 || snap.Order != "like_count" {
		t.Errorf("snapshot = page %d items %d order %s, want 1/10/like_count", snap.Page, len(snap.Items), snap.Order)
	}
	if last := srv.calls[len(srv.calls)-1]; last != 1 {
		t.Errorf("last requested page = %d, want 1", last)
	}
}

func TestPagedStore_ErrorKeepsItemsAndDisablesCache(t *testing.T) {
	srv := &pagedServer{total: 30}
	s := newTestStore(srv.fetch, newFakeClock())
	ctx := context.Background()

	s.Fetch(ctx, true, Query{})

	srv.mu.Lock()
	srv.err = errors.New("upstream down")
	srv.mu.Unlock()

	snap, err := s.Fetch(ctx, false, Query{})
	if err == nil {
		t.Fatal("エラーが返るべき")
	}
	if len(snap.Items) != 10 || snap.Error != "upstream down" || snap.Loading {
		t.Errorf("snapshot = items %d error %q loading %v", len(snap.Items), snap.Error, snap.Loading)
	}

	srv.mu.Lock()
	srv.err = nil
	srv.mu.Unlock()

	before := srv.callCount()
	snap, err = s.Fetch(ctx, true, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if srv.callCount() == before {
		t.Error("失敗後のリセットはキャッシュを使わないべき")
	}
	if snap.Error != "" {
		t.Errorf("成功後にerrorが残っている: %q", snap.Error)
	}
}

func TestPagedStore_ConcurrentIdenticalFetchesShareRequest(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context, q Query, page, pageSize int) (Page[testItem], error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return Page[testItem]{Items: []testItem{{ID: "a"}}, Total: 1}, nil
	}
	s := newTestStore(fetch, newFakeClock())

	var wg sync.WaitGroup
	results := make([]Snapshot[testItem], 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.Fetch(context.Background(), true, Query{})
		}(i)
		if i == 0 {
			<-started
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", calls.Load())
	}
	for i, r := range results {
		if len(r.Items) != 1 {
			t.Errorf("result[%d] items = %d, want 1", i, len(r.Items))
		}
	}
}

func TestPagedStore_ResetDiscardsInFlightLoadMore(t *testing.T) {
	page2Started := make(chan struct{})
	releasePage2 := make(chan struct{})
	var resets atomic.Int32
	fetch := func(ctx context.Context, q Query, page, pageSize int) (Page[testItem], error) {
		if page == 2 {
			close(page2Started)
			<-releasePage2
			return Page[testItem]{Items: []testItem{{ID: "old-2"}}, Total: 100}, nil
		}
		n := resets.Add(1)
		return Page[testItem]{Items: []testItem{{ID: fmt.Sprintf("reset-%d", n)}}, Total: 100}, nil
	}
	s := newTestStore(fetch, newFakeClock())
	ctx := context.Background()

	s.Fetch(ctx, true, Query{})

	done := make(chan Snapshot[testItem])
	go func() {
		snap, _ := s.Fetch(ctx, false, Query{})
		done <- snap
	}()
	<-page2Started

	snap, err := s.Refresh(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Items) != 1 || snap.Items[0].ID != "reset-2" {
		t.Fatalf("reset items = %+v", snap.Items)
	}

	close(releasePage2)
	<-done

	final := s.Snapshot()
	if len(final.Items) != 1 || final.Items[0].ID != "reset-2" || final.Page != 1 {
		t.Errorf("古い追加取得の結果が反映された: %+v page %d", final.Items, final.Page)
	}
}

func TestPagedStore_ResetABAFilterToggle(t *testing.T) {
	started := make(chan string, 3)
	release := make(chan struct{})
	releaseAll := sync.OnceFunc(func() { close(release) })
	defer releaseAll()

	fetch := func(ctx context.Context, q Query, page, pageSize int) (Page[testItem], error) {
		tag := q.Filters["tag"]
		started <- tag
		<-release
		return Page[testItem]{Items: []testItem{{ID: tag + "1"}}, Total: 1}, nil
	}
	s := newTestStore(fetch, newFakeClock())
	ctx := context.Background()
	qa := Query{Filters: map[string]string{"tag": "a"}}
	qb := Query{Filters: map[string]string{"tag": "b"}}

	waitStarted := func(want string) {
		t.Helper()
		select {
		case got := <-started:
			if got != want {
				t.Fatalf("started fetch for %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("fetch for %q was not issued", want)
		}
	}

	var wg sync.WaitGroup
	for _, q := range []Query{qa, qb} {
		wg.Add(1)
		go func(q Query) {
			defer wg.Done()
			s.Fetch(ctx, true, q)
		}(q)
		waitStarted(q.Filters["tag"])
	}

	type result struct {
		snap Snapshot[testItem]
		err  error
	}
	third := make(chan result, 1)
	go func() {
		snap, err := s.Fetch(ctx, true, qa)
		third <- result{snap, err}
	}()
	// A→B→Aと切り替えた最後のリセットは、古いAの取得に相乗りせず取り直す
	waitStarted("a")

	releaseAll()
	wg.Wait()
	got := <-third

	if got.err != nil {
		t.Fatalf("unexpected error: %v", got.err)
	}
	if len(got.snap.Items) != 1 || got.snap.Items[0].ID != "a1" || got.snap.Filters["tag"] != "a" {
		t.Errorf("third reset = items %+v filters %v", got.snap.Items, got.snap.Filters)
	}
	if got.snap.Loading {
		t.Error("リセット完了後もloadingが残っている")
	}

	final := s.Snapshot()
	if len(final.Items) != 1 || final.Items[0].ID != "a1" || final.Loading {
		t.Errorf("final = items %+v loading %v", final.Items, final.Loading)
	}

	// リセット中フラグが解除され、次の追加取得が止まらないこと
	if _, err := s.Fetch(ctx, false, qa); err != nil {
		t.Errorf("load more after toggle: %v", err)
	}
}

func TestPagedStore_CallerCancellationStillPopulatesStore(t *testing.T) {
	release := make(chan struct{})
	fetch := func(ctx context.Context, q Query, page, pageSize int) (Page[testItem], error) {
		<-release
		if ctx.Err() != nil {
			return Page[testItem]{}, ctx.Err()
		}
		return Page[testItem]{Items: []testItem{{ID: "a"}}, Total: 1}, nil
	}
	s := newTestStore(fetch, newFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() {
		_, err := s.Fetch(ctx, true, Query{})
		errCh <- err
	}()
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(s.Snapshot().Items) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("キャンセル後も取得結果はストアに反映されるべき")
}

func TestPagedStore_UpdateFindInvalidate(t *testing.T) {
	srv := &pagedServer{total: 5}
	s := newTestStore(srv.fetch, newFakeClock())
	ctx := context.Background()
	s.Fetch(ctx, true, Query{})

	if !s.Update("0", func(it *testItem) { it.Liked = true }) {
		t.Fatal("Update should find item 0")
	}
	if it, ok := s.Find("0"); !ok || !it.Liked {
		t.Errorf("Find = %+v %v", it, ok)
	}
	if s.Update("missing", func(*testItem) {}) {
		t.Error("Update should return false for unknown id")
	}

	s.Invalidate()
	s.Fetch(ctx, true, Query{})
	if srv.callCount() != 2 {
		t.Errorf("Invalidate後のリセットは取得すべき: calls = %d", srv.callCount())
	}
}

func TestQuery_KeyIsOrderIndependent(t *testing.T) {
	a := Query{Order: "x", Filters: map[string]string{"a": "1", "b": "2", "c": ""}}
	b := Query{Order: "x", Filters: map[string]string{"b": "2", "a": "1"}}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if a.Key() == (Query{Order: "x", Desc: true, Filters: b.Filters}).Key() {
		t.Error("desc should change the key")
	}
}
