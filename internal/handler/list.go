package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"
	// tzパラメータをOSのタイムゾーンDBに依存せず解決する
	_ "time/tzdata"

	"github.com/hitoshi/mavae-gateway/internal/grouping"
	"github.com/hitoshi/mavae-gateway/internal/model"
	"github.com/hitoshi/mavae-gateway/internal/store"
)

// listParams は一覧エンドポイント共通のクエリパラメータ。
//
//	reset   true（既定）で1ページ目から取り直し、falseで次のページを追記する
//	order   並び順のフィールド名
//	desc    降順ならtrue
//	source  コンテンツの生成元で絞り込む
//	grouped trueなら日付ごとのグループも返す（コンテンツ一覧のみ）
//	tz      グループ化に使うタイムゾーン（IANA名、既定UTC）
type listParams struct {
	Reset   bool
	Grouped bool
	Query   store.Query
	Loc     *time.Location
}

// parseListParams はクエリパラメータを解析する。不正な値はINVALID_REQUESTとする。
func parseListParams(r *http.Request) (listParams, *model.APIError) {
	q := r.URL.Query()
	p := listParams{Reset: true, Loc: time.UTC}

	var err *model.APIError
	if p.Reset, err = parseBoolParam(q.Get("reset"), "reset", true); err != nil {
		return p, err
	}
	if p.Query.Desc, err = parseBoolParam(q.Get("desc"), "desc", false); err != nil {
		return p, err
	}
	if p.Grouped, err = parseBoolParam(q.Get("grouped"), "grouped", false); err != nil {
		return p, err
	}
	p.Query.Order = q.Get("order")
	if source := q.Get("source"); source != "" {
		p.Query.Filters = map[string]string{"source": source}
	}
	if tz := q.Get("tz"); tz != "" {
		loc, locErr := time.LoadLocation(tz)
		if locErr != nil {
			return p, model.NewInvalidRequestError("tz: 不明なタイムゾーンです")
		}
		p.Loc = loc
	}
	return p, nil
}

func parseBoolParam(raw, name string, def bool) (bool, *model.APIError) {
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def, model.NewInvalidRequestError(name + ": true または false を指定してください")
	}
	return b, nil
}

// listResponse は一覧エンドポイントのレスポンス。
// groupedが指定された場合はgroupsに日付ごとのグループを含める。
type listResponse[T any] struct {
	store.Snapshot[T]
	Groups []grouping.Group[T] `json:"groups,omitempty"`
}

// fetchList はストアから一覧を取得してレスポンスを書き込む。
// 取得に失敗しても既に読み込み済みのアイテムがあれば、errorフィールド付きで200を返す。
func fetchList[T any](
	w http.ResponseWriter,
	r *http.Request,
	s *store.PagedStore[T],
	resource string,
	group func(prev, cur store.Snapshot[T], p listParams) []grouping.Group[T],
) {
	p, apiErr := parseListParams(r)
	if apiErr != nil {
		handleServiceError(w, apiErr, resource, "")
		return
	}

	prev := s.Snapshot()
	snap, err := s.Fetch(r.Context(), p.Reset, p.Query)
	if err != nil {
		if len(snap.Items) == 0 || r.Context().Err() != nil {
			handleServiceError(w, err, resource, "")
			return
		}
		slog.Warn("serving stale list after fetch failure",
			slog.String("resource", resource),
			slog.Int("items", len(snap.Items)),
			slog.String("error", err.Error()),
		)
	}

	resp := listResponse[T]{Snapshot: snap}
	if p.Grouped && group != nil {
		resp.Groups = group(prev, snap, p)
	}
	writeJSON(w, resp)
}

// contentGrouper はコンテンツ一覧を日付ごとにグループ化する関数を返す。
// 追加取得では取得前のグループに新しいアイテムだけをマージする。
func contentGrouper(now func() time.Time) func(prev, cur store.Snapshot[model.ContentItem], p listParams) []grouping.Group[model.ContentItem] {
	return func(prev, cur store.Snapshot[model.ContentItem], p listParams) []grouping.Group[model.ContentItem] {
		timeOf := model.ContentItem.GroupTime
		if p.Reset || cur.Page <= 1 {
			return grouping.GroupByDay(cur.Items, timeOf, p.Loc, now())
		}
		existing := grouping.GroupByDay(prev.Items, timeOf, p.Loc, now())
		return grouping.MergeGrouped(existing, cur.Items, timeOf, contentID, p.Loc, now())
	}
}

func contentID(c model.ContentItem) string { return c.ID }
