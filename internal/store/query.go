package store

import (
	"net/url"
	"sort"
	"strconv"
)

// Query は一覧のソート・フィルター条件。
// ページ番号はストアが管理するため含まない。
type Query struct {
	Order   string
	Desc    bool
	Filters map[string]string
}

// Key はキャッシュ・重複排除に使う正規化済みのキーを返す。
// フィルターはキー順に並べ、空値は除外する。
func (q Query) Key() string {
	v := url.Values{}
	v.Set("order", q.Order)
	v.Set("desc", strconv.FormatBool(q.Desc))

	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if q.Filters[k] != "" {
			v.Set("f."+k, q.Filters[k])
		}
	}
	// url.Values.Encode はキー順に並べる
	return v.Encode()
}

func (q Query) clone() Query {
	if q.Filters == nil {
		return q
	}
	f := make(map[string]string, len(q.Filters))
	for k, v := range q.Filters {
		f[k] = v
	}
	q.Filters = f
	return q
}
