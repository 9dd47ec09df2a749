package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/mavae-gateway/internal/apiclient"
	"github.com/hitoshi/mavae-gateway/internal/media"
	"github.com/hitoshi/mavae-gateway/internal/model"
)

// tokenUploader はどのトークンで生成されたかを記録するUploader。
type tokenUploader struct {
	token string
}

func (u *tokenUploader) UploadFile(context.Context, string, string, []byte) (string, error) {
	return "", nil
}

type mockImporter struct {
	importFn func(ctx context.Context, up media.Uploader, rawURL string) (*media.Result, error)

	lastToken string
	lastURL   string
}

func (m *mockImporter) Import(ctx context.Context, up media.Uploader, rawURL string) (*media.Result, error) {
	if tu, ok := up.(*tokenUploader); ok {
		m.lastToken = tu.token
	}
	m.lastURL = rawURL
	if m.importFn != nil {
		return m.importFn(ctx, up, rawURL)
	}
	return &media.Result{URL: "https://files.example.com/a.png", SourceURL: rawURL, ContentType: "image/png", Size: 10}, nil
}

func TestFilesImport(t *testing.T) {
	ts := newTestServer(t, &fakeUpstream{})

	req := authed(httptest.NewRequest(http.MethodPost, "/api/files/import", strings.NewReader(`{"url":"  https://example.com/a.png "}`)))
	w := ts.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decodeBody[media.Result](t, w)
	if res.URL != "https://files.example.com/a.png" {
		t.Errorf("result = %+v", res)
	}
	if ts.importer.lastToken != "alice-token" || ts.importer.lastURL != "https://example.com/a.png" {
		t.Errorf("importer got token=%q url=%q", ts.importer.lastToken, ts.importer.lastURL)
	}
}

func TestFilesImport_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		importErr  error
		wantStatus int
		wantCode   string
	}{
		{"empty url", `{"url":""}`, nil, http.StatusBadRequest, model.ErrCodeInvalidURL},
		{"broken json", `{`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"ssrf", `{"url":"http://10.0.0.1/"}`, model.NewSSRFBlockedError(), http.StatusBadRequest, model.ErrCodeSSRFBlocked},
		{"no media", `{"url":"https://example.com/"}`, model.NewMediaNotDetectedError("https://example.com/"), http.StatusUnprocessableEntity, model.ErrCodeMediaNotDetected},
		{"upload rejected", `{"url":"https://example.com/a.png"}`, fmt.Errorf("upload: %w", &apiclient.APIError{StatusCode: 401}), http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"upload failed", `{"url":"https://example.com/a.png"}`, fmt.Errorf("upload: %w", &apiclient.APIError{StatusCode: 500}), http.StatusBadGateway, model.ErrCodeUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeUpstream{})
			ts.importer.importFn = func(context.Context, media.Uploader, string) (*media.Result, error) {
				return nil, tt.importErr
			}
			w := ts.do(authed(httptest.NewRequest(http.MethodPost, "/api/files/import", strings.NewReader(tt.body))))
			if w.Code != tt.wantStatus || errorCode(t, w) != tt.wantCode {
				t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestFilesImport_RequiresViewer(t *testing.T) {
	h := NewFilesHandler(&mockImporter{}, func(string) media.Uploader { return &tokenUploader{} })
	w := httptest.NewRecorder()
	h.Import(w, httptest.NewRequest(http.MethodPost, "/api/files/import", strings.NewReader(`{"url":"https://example.com"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
