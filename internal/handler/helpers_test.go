package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/mavae-gateway/internal/apiclient"
	"github.com/hitoshi/mavae-gateway/internal/media"
	"github.com/hitoshi/mavae-gateway/internal/middleware"
	"github.com/hitoshi/mavae-gateway/internal/model"
	"github.com/hitoshi/mavae-gateway/internal/store"
)

// --- 上流APIのフェイク ---

// fakeUpstream はstore.ContentAPIとstore.GalleryAPIを実装するテスト用の上流。
// 一覧系は保持するスライスをpage/page_sizeで切り出して返す。
type fakeUpstream struct {
	mu sync.Mutex

	contents  []model.ContentItem
	models    []model.ModelItem
	workflows []model.WorkflowItem
	users     map[string]model.UserProfile
	details   map[string]model.WorkflowDetail

	listErr error
	likeErr error
	visErr  error

	// likeStarted/likeRelease が設定されている場合、いいねの反映を途中で止める
	likeStarted chan struct{}
	likeRelease chan struct{}

	calls []string
}

func (f *fakeUpstream) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeUpstream) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeUpstream) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func pageOf[T any](f *fakeUpstream, items []T, p apiclient.PageParams) (*apiclient.ListResult[T], error) {
	f.mu.Lock()
	err := f.listErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	start := (p.Page - 1) * p.PageSize
	if start > len(items) {
		start = len(items)
	}
	end := min(start+p.PageSize, len(items))
	out := make([]T, end-start)
	copy(out, items[start:end])
	return &apiclient.ListResult[T]{Items: out, Total: len(items)}, nil
}

func (f *fakeUpstream) ListContents(_ context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.ContentItem], error) {
	f.record("contents")
	return pageOf(f, f.contents, p)
}

func (f *fakeUpstream) ListLikedContents(_ context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.ContentItem], error) {
	f.record("liked")
	return pageOf(f, f.contents, p)
}

func (f *fakeUpstream) ListUserContents(_ context.Context, did string, p apiclient.PageParams) (*apiclient.ListResult[model.ContentItem], error) {
	f.record("user_contents:" + did)
	return pageOf(f, f.contents, p)
}

func (f *fakeUpstream) ListTopicContents(_ context.Context, tag string, p apiclient.PageParams) (*apiclient.ListResult[model.ContentItem], error) {
	f.record("topic:" + tag)
	return pageOf(f, f.contents, p)
}

func (f *fakeUpstream) like(call string) error {
	f.record(call)
	if f.likeStarted != nil {
		f.likeStarted <- struct{}{}
		<-f.likeRelease
	}
	return f.likeErr
}

func (f *fakeUpstream) LikeContent(context.Context, string) error   { return f.like("like_content") }
func (f *fakeUpstream) UnlikeContent(context.Context, string) error { return f.like("unlike_content") }

func (f *fakeUpstream) SetContentVisibility(_ context.Context, id string, vis model.Visibility) error {
	f.record("visibility:" + string(vis))
	return f.visErr
}

func (f *fakeUpstream) GetUser(_ context.Context, did string) (*model.UserProfile, error) {
	f.record("user:" + did)
	u, ok := f.users[did]
	if !ok {
		return nil, &apiclient.APIError{StatusCode: http.StatusNotFound, Message: "user not found"}
	}
	return &u, nil
}

func (f *fakeUpstream) ListModels(_ context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.ModelItem], error) {
	f.record("models")
	return pageOf(f, f.models, p)
}

func (f *fakeUpstream) ListUserModels(_ context.Context, did string, p apiclient.PageParams) (*apiclient.ListResult[model.ModelItem], error) {
	f.record("user_models:" + did)
	return pageOf(f, f.models, p)
}

func (f *fakeUpstream) LikeModel(context.Context, string) error   { return f.like("like_model") }
func (f *fakeUpstream) UnlikeModel(context.Context, string) error { return f.like("unlike_model") }

func (f *fakeUpstream) ListWorkflows(_ context.Context, p apiclient.PageParams) (*apiclient.ListResult[model.WorkflowItem], error) {
	f.record("workflows")
	return pageOf(f, f.workflows, p)
}

func (f *fakeUpstream) ListUserWorkflows(_ context.Context, did string, p apiclient.PageParams) (*apiclient.ListResult[model.WorkflowItem], error) {
	f.record("user_workflows:" + did)
	return pageOf(f, f.workflows, p)
}

func (f *fakeUpstream) GetWorkflow(_ context.Context, id string) (*model.WorkflowDetail, error) {
	f.record("workflow:" + id)
	d, ok := f.details[id]
	if !ok {
		return nil, &apiclient.APIError{StatusCode: http.StatusNotFound}
	}
	return &d, nil
}

func (f *fakeUpstream) LikeWorkflow(context.Context, string) error   { return f.like("like_workflow") }
func (f *fakeUpstream) UnlikeWorkflow(context.Context, string) error { return f.like("unlike_workflow") }

var (
	_ store.ContentAPI = (*fakeUpstream)(nil)
	_ store.GalleryAPI = (*fakeUpstream)(nil)
)

// makeContents はn件のコンテンツを1時間おきの作成日時で生成する（新しい順）。
func makeContents(n int, latest time.Time) []model.ContentItem {
	items := make([]model.ContentItem, n)
	for i := range items {
		items[i] = model.ContentItem{
			ID:         "c" + strconv.Itoa(i+1),
			URL:        "https://cdn.example.com/c" + strconv.Itoa(i+1) + ".png",
			Visibility: model.VisibilityPublic,
			LikeCount:  i,
			CreatedAt:  latest.Add(-time.Duration(i) * time.Hour),
		}
	}
	return items
}

// newTestRegistry はfakeUpstreamを使うstore.Registryを生成する。
// トークンごとの上流の切り替えは行わず、全閲覧者が同じフェイクを共有する。
func newTestRegistry(t *testing.T, up *fakeUpstream, pageSize int) *store.Registry {
	t.Helper()
	reg := store.NewRegistry(func(token string) *store.Views {
		return store.NewViews(up, up, nil, store.Options{TTL: time.Minute, PageSize: pageSize})
	}, time.Hour)
	t.Cleanup(reg.Stop)
	return reg
}

// --- セッション・CSRF ---

type mockSessionFinder struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinder) FindByID(_ context.Context, id string) (*model.Session, error) {
	return m.sessions[id], nil
}

func newSessionFinder() *mockSessionFinder {
	return &mockSessionFinder{sessions: map[string]*model.Session{
		"sess-alice": {
			ID:          "sess-alice",
			UserDID:     "did:alice",
			AccessToken: "alice-token",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}}
}

const testCSRFToken = "csrf-test-token"

// authed はセッションCookieとCSRFトークンを付与する。
func authed(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "sess-alice"})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	return req
}

// --- ルーター ---

type testServer struct {
	router   http.Handler
	upstream *fakeUpstream
	registry *store.Registry
	auth     *mockAuthService
	importer *mockImporter
	tags     *mockTagLister
}

func newTestServer(t *testing.T, up *fakeUpstream) *testServer {
	t.Helper()
	ts := &testServer{
		upstream: up,
		registry: newTestRegistry(t, up, 3),
		auth:     &mockAuthService{},
		importer: &mockImporter{},
		tags:     &mockTagLister{},
	}
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	ts.router = NewRouter(&RouterDeps{
		SessionFinder:     newSessionFinder(),
		CORSAllowedOrigin: "http://localhost:5173",
		RateLimiter:       rl,
		AuthService:       ts.auth,
		AuthConfig:        AuthHandlerConfig{BaseURL: "http://localhost:5173", SessionMaxAge: 3600},
		Views:             ts.registry,
		Tags:              ts.tags,
		Importer:          ts.importer,
		Uploaders:         func(token string) media.Uploader { return &tokenUploader{token: token} },
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body %q: %v", w.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[middleware.ErrorResponseBody](t, w).Code
}
