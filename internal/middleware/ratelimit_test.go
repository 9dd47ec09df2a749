package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testRateLimiter(t *testing.T, generalBurst, mutationBurst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0 / 60.0),
		GeneralBurst:    generalBurst,
		MutationRate:    rate.Limit(1.0 / 60.0),
		MutationBurst:   mutationBurst,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(remoteAddr string, viewer *Viewer) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	req.RemoteAddr = remoteAddr
	if viewer != nil {
		req = req.WithContext(ContextWithViewer(req.Context(), *viewer))
	}
	return req
}

func TestRateLimiter_AllowsBurstThenRejects(t *testing.T) {
	rl := testRateLimiter(t, 3, 1)
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:5000", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:5001", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter != 60 {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestRateLimiter_KeysByViewerThenIP(t *testing.T) {
	rl := testRateLimiter(t, 1, 1)
	handler := rl.GeneralMiddleware()(okHandler())

	alice := &Viewer{DID: "did:alice"}
	bob := &Viewer{DID: "did:bob"}

	// 同じIPでも閲覧者が違えば別枠
	for _, v := range []*Viewer{alice, bob, nil} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:1", v))
		if w.Code != http.StatusOK {
			t.Errorf("first request for %+v: status = %d", v, w.Code)
		}
	}

	// 閲覧者はIPが変わっても同じ枠
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.2:1", alice))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("alice from another IP: status = %d, want 429", w.Code)
	}

	if got := rl.GeneralLimiterCount(); got != 3 {
		t.Errorf("GeneralLimiterCount = %d, want 3", got)
	}
}

func TestRateLimiter_MutationIsIndependent(t *testing.T) {
	rl := testRateLimiter(t, 5, 1)
	general := rl.GeneralMiddleware()
	mutation := rl.MutationMiddleware()
	handler := general(mutation(okHandler()))
	viewer := &Viewer{DID: "did:mut"}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1", viewer))
	if w.Code != http.StatusOK {
		t.Fatalf("first mutation: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1", viewer))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second mutation: status = %d, want 429", w.Code)
	}

	// 更新系の枠を使い切っても参照系は通る
	w = httptest.NewRecorder()
	general(okHandler()).ServeHTTP(w, requestFrom("10.0.0.1:1", viewer))
	if w.Code != http.StatusOK {
		t.Errorf("general request: status = %d, want 200", w.Code)
	}
	if rl.MutationLimiterCount() != 1 {
		t.Errorf("MutationLimiterCount = %d, want 1", rl.MutationLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := testRateLimiter(t, 5, 5)
	handler := rl.GeneralMiddleware()(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1", nil))

	rl.cleanup(time.Now().Add(time.Minute))
	if rl.GeneralLimiterCount() != 1 {
		t.Error("recent entry should survive cleanup")
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 {
		t.Error("idle entry should be removed")
	}
}

func TestPerMinuteRateLimiterConfig(t *testing.T) {
	cfg := PerMinuteRateLimiterConfig(120, 30)
	if cfg.GeneralRate != rate.Limit(2) || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.MutationRate != rate.Limit(0.5) || cfg.MutationBurst != 30 {
		t.Errorf("mutation = %v/%d", cfg.MutationRate, cfg.MutationBurst)
	}
	if DefaultRateLimiterConfig() != cfg {
		t.Error("default should be 120/30 per minute")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}
