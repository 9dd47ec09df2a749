// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mavae-gateway/internal/apiclient"
	"github.com/hitoshi/mavae-gateway/internal/middleware"
	"github.com/hitoshi/mavae-gateway/internal/model"
	"github.com/hitoshi/mavae-gateway/internal/store"
)

// ViewsProvider は閲覧者ごとのストア一式を返す。store.Registryが実装する。
type ViewsProvider interface {
	Get(viewerID, token string) *store.Views
}

// viewsFor はリクエストの閲覧者に対応するストア一式を返す。
// 未ログインの場合は匿名閲覧者のストアを返す。
func viewsFor(p ViewsProvider, r *http.Request) *store.Views {
	if v, ok := middleware.ViewerFromContext(r.Context()); ok {
		return p.Get(v.DID, v.AccessToken)
	}
	return p.Get("", "")
}

// writeJSON はステータス200でJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はストア・上流APIのエラーを統一フォーマットのレスポンスに変換する。
// resourceとidはNOT_FOUNDなどのメッセージに使う。
func handleServiceError(w http.ResponseWriter, err error, resource, id string) {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		middleware.WriteAPIError(w, apiErr)
	case errors.Is(err, store.ErrToggleInFlight):
		middleware.WriteAPIError(w, model.NewToggleInFlightError(id))
	case apiclient.IsUnauthorized(err):
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
	case apiclient.IsNotFound(err):
		middleware.WriteAPIError(w, model.NewNotFoundError(resource, id))
	case errors.Is(err, context.Canceled):
		// クライアントが切断済みのためレスポンスは届かない
		slog.Debug("request canceled", slog.String("resource", resource))
	default:
		slog.Error("upstream request failed",
			slog.String("resource", resource),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		middleware.WriteAPIError(w, model.NewUpstreamError(upstreamReason(err)))
	}
}

// upstreamReason はユーザーに見せる失敗理由を返す。上流の内部メッセージは含めない。
func upstreamReason(err error) string {
	switch status := apiclient.StatusOf(err); {
	case status == http.StatusTooManyRequests:
		return "リクエストが集中しています"
	case status >= 500:
		return "サーバーエラー"
	case status > 0:
		return http.StatusText(status)
	case errors.Is(err, context.DeadlineExceeded):
		return "タイムアウト"
	default:
		return "接続できません"
	}
}
