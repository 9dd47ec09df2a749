// Package grouping はフラットな一覧を日付ごとのグループ（TimeGroup）にまとめる。
package grouping

import (
	"slices"
	"time"
)

const (
	keyLayout   = "2006-01-02"
	labelLayout = "Jan 2, 2006"

	// LabelToday は当日のグループのラベル。
	LabelToday = "Today"
	// LabelYesterday は前日のグループのラベル。
	LabelYesterday = "Yesterday"
)

// Group は同じ暦日に属するアイテムの集まり。
// Keyは YYYY-MM-DD、Labelは表示用の文字列。
type Group[T any] struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Items []T    `json:"items"`
}

// GroupByDay はitemsをloc上の暦日ごとにグループ化する。
// グループはキーの降順、グループ内のアイテムは時刻の降順（同時刻は元の順序）に並ぶ。
// timeOfがゼロ値を返すアイテムはどのグループにも含めない。
func GroupByDay[T any](items []T, timeOf func(T) time.Time, loc *time.Location, now time.Time) []Group[T] {
	if loc == nil {
		loc = time.UTC
	}

	type entry struct {
		item T
		at   time.Time
	}
	byKey := make(map[string][]entry)
	for _, it := range items {
		at := timeOf(it)
		if at.IsZero() {
			continue
		}
		key := at.In(loc).Format(keyLayout)
		byKey[key] = append(byKey[key], entry{item: it, at: at})
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	// YYYY-MM-DD は文字列比較で日付順になる
	slices.Sort(keys)
	slices.Reverse(keys)

	today := now.In(loc).Format(keyLayout)
	yesterday := now.In(loc).AddDate(0, 0, -1).Format(keyLayout)

	groups := make([]Group[T], 0, len(keys))
	for _, k := range keys {
		entries := byKey[k]
		slices.SortStableFunc(entries, func(a, b entry) int {
			return b.at.Compare(a.at)
		})

		g := Group[T]{Key: k, Label: label(k, today, yesterday, entries[0].at.In(loc))}
		g.Items = make([]T, len(entries))
		for i, e := range entries {
			g.Items[i] = e.item
		}
		groups = append(groups, g)
	}
	return groups
}

func label(key, today, yesterday string, at time.Time) string {
	switch key {
	case today:
		return LabelToday
	case yesterday:
		return LabelYesterday
	default:
		return at.Format(labelLayout)
	}
}

// Flatten はグループを順番どおりに1つの一覧へ戻す。
func Flatten[T any](groups []Group[T]) []T {
	n := 0
	for _, g := range groups {
		n += len(g.Items)
	}
	out := make([]T, 0, n)
	for _, g := range groups {
		out = append(out, g.Items...)
	}
	return out
}

// MergeGrouped は既存のグループにincomingのうち未登録のIDのアイテムだけを追加し、再グループ化する。
// 既に含まれているアイテムの内容は更新しない。
func MergeGrouped[T any](
	existing []Group[T],
	incoming []T,
	timeOf func(T) time.Time,
	keyOf func(T) string,
	loc *time.Location,
	now time.Time,
) []Group[T] {
	all := Flatten(existing)
	seen := make(map[string]struct{}, len(all)+len(incoming))
	for _, it := range all {
		seen[keyOf(it)] = struct{}{}
	}
	for _, it := range incoming {
		id := keyOf(it)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		all = append(all, it)
	}
	return GroupByDay(all, timeOf, loc, now)
}
