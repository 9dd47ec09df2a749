// Package warm は匿名閲覧者のストアを定期的に再取得するキャッシュウォーマーを提供する。
// 未ログインの閲覧者がTTL切れの上流呼び出しを待たずに済むよう、
// フィード・ギャラリー・設定されたトピックを先回りして更新する。
package warm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/mavae-gateway/internal/store"
)

// Target はウォーム対象の1ストア。
type Target struct {
	Name    string
	Refresh func(ctx context.Context) error
}

// ViewsSource は匿名閲覧者のストア集合を提供する。store.Registryが実装する。
type ViewsSource interface {
	Anonymous() *store.Views
}

// Targets は匿名閲覧者のストアからウォーム対象を組み立てる。
// 既定の並び順（Query{}）の1ページ目を強制再取得する。
func Targets(v *store.Views, topics []string) []Target {
	targets := []Target{
		{Name: "feed", Refresh: refresher(v.FeedStore())},
		{Name: "models", Refresh: refresher(v.ModelStore())},
		{Name: "workflows", Refresh: refresher(v.WorkflowStore())},
	}
	for _, tag := range topics {
		if tag == "" {
			continue
		}
		targets = append(targets, Target{Name: "topic:" + tag, Refresh: refresher(v.TopicStore(tag))})
	}
	return targets
}

func refresher[T any](s *store.PagedStore[T]) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.Refresh(ctx, store.Query{})
		return err
	}
}

// Scheduler はウォーム処理のスケジューリングと並列制御を行う。
type Scheduler struct {
	source         ViewsSource
	topics         []string
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(source ViewsSource, topics []string, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		source:         source,
		topics:         topics,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔でウォーム処理を実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("キャッシュウォーマーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
		slog.Int("topics", len(s.topics)),
	)

	s.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("キャッシュウォーマーを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("ウォームサイクルで失敗したストアがあります",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は全ウォーム対象を1回ずつ並列で再取得する。
// 1件の失敗で他の対象を止めず、失敗はまとめて返す。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	targets := Targets(s.source.Anonymous(), s.topics)

	sem := make(chan struct{}, s.maxConcurrency)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, target := range targets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := t.Refresh(ctx); err != nil {
				s.logger.Warn("ストアのウォームに失敗しました",
					slog.String("target", t.Name),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
				mu.Unlock()
			}
		}(target)
	}

	wg.Wait()

	s.logger.Info("ウォームサイクルが完了しました",
		slog.Int("target_count", len(targets)),
		slog.Int("failed", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return errors.Join(errs...)
}
