package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/mavae-gateway/internal/metrics"
)

// ErrToggleInFlight は同じ対象への楽観的更新が処理中であることを示す。
var ErrToggleInFlight = errors.New("toggle already in flight")

// Toggler は楽観的更新（いいね・公開範囲）を実行する。
// 同じキーへの更新は同時に1つだけ受け付ける。
type Toggler struct {
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewToggler はTogglerを生成する。
func NewToggler(m metrics.MetricsCollector, logger *slog.Logger) *Toggler {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toggler{
		metrics:  m,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Run はapplyでローカル状態を即座に更新し、commitで上流へ反映する。
// commitが失敗した場合はrollbackで更新前の状態に戻してエラーを返す。
func (t *Toggler) Run(
	ctx context.Context,
	kind, id string,
	apply func(),
	rollback func(),
	commit func(ctx context.Context) error,
) error {
	key := kind + ":" + id

	t.mu.Lock()
	if _, busy := t.inflight[key]; busy {
		t.mu.Unlock()
		t.metrics.RecordToggleRejected(kind)
		return ErrToggleInFlight
	}
	t.inflight[key] = struct{}{}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.inflight, key)
		t.mu.Unlock()
	}()

	apply()

	if err := commit(ctx); err != nil {
		rollback()
		t.metrics.RecordToggleRollback(kind)
		t.logger.Warn("optimistic update rolled back",
			slog.String("kind", kind),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// InFlight はキーの更新が処理中かどうかを返す。
func (t *Toggler) InFlight(kind, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inflight[kind+":"+id]
	return ok
}
