package apiclient

import (
	"net/url"
	"sort"
	"strconv"
)

// PageParams は一覧系エンドポイントのページング・ソート・フィルター条件。
type PageParams struct {
	Page     int
	PageSize int
	Order    string
	Desc     bool
	// Filters はsource等の追加クエリパラメータ。空値は送信しない。
	Filters map[string]string
}

// Values はPageParamsをクエリパラメータに変換する。
// descはorder指定時のみ送信する。
func (p PageParams) Values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(p.PageSize))
	}
	if p.Order != "" {
		v.Set("order", p.Order)
		v.Set("desc", strconv.FormatBool(p.Desc))
	}

	keys := make([]string, 0, len(p.Filters))
	for k := range p.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if p.Filters[k] != "" {
			v.Set(k, p.Filters[k])
		}
	}
	return v
}

// ListResult は一覧系エンドポイントのdata部分。
type ListResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
