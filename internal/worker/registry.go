package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker はプロセスと同じ寿命で動くバックグラウンド処理
type Worker interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Registry はmainが1つだけ作り、起動と停止の順序を持つ。
// 停止は起動の逆順。
type Registry struct {
	mu      sync.Mutex
	workers []Worker
	started []Worker
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logger.Named("worker")}
}

// Register はStartより前に呼ぶ
func (r *Registry) Register(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append(r.workers, w)
}

// Start は登録順に起動する。途中で失敗したら起動済みのものを止めて返す。
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.started) > 0 {
		return errors.New("workers already started")
	}

	for _, w := range r.workers {
		if err := w.Start(ctx); err != nil {
			r.logger.Error("worker failed to start", zap.String("worker", w.Name()), zap.Error(err))
			stopErr := r.stopLocked(ctx)
			return errors.Join(fmt.Errorf("start %s: %w", w.Name(), err), stopErr)
		}
		r.started = append(r.started, w)
		r.logger.Info("worker started", zap.String("worker", w.Name()))
	}
	return nil
}

func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(ctx)
}

func (r *Registry) stopLocked(ctx context.Context) error {
	var errs []error
	for i := len(r.started) - 1; i >= 0; i-- {
		w := r.started[i]
		if err := w.Stop(ctx); err != nil {
			r.logger.Error("worker failed to stop", zap.String("worker", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", w.Name(), err))
			continue
		}
		r.logger.Info("worker stopped", zap.String("worker", w.Name()))
	}
	r.started = nil
	return errors.Join(errs...)
}

// Names は登録済みのworker名（ヘルスチェック用）
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Name())
	}
	return out
}
