package eventbus

import (
	"context"
	"time"

	"ordercore/internal/pkg/logging"
	"ordercore/internal/pkg/metrics"

	"go.uber.org/zap"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

type dispatcher struct {
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// deliver はハンドラを最大attempts回まで呼ぶ。
// 最後まで失敗したら補償漏れとしてErrorログを残しfalseを返す。
func (d dispatcher) deliver(ctx context.Context, h Handler, ev Event) bool {
	l := d.logger.With(
		zap.String("topic", ev.Topic),
		zap.String("event_id", ev.ID),
		zap.String("key", ev.Key),
	)
	hctx := logging.ContextWithLogger(ctx, l)

	wait := d.backoff
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err = h(hctx, ev); err == nil {
			d.metrics.EventHandled(ev.Topic, "ok")
			return true
		}
		l.Warn("event handler failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == d.attempts {
			break
		}
		d.metrics.EventHandled(ev.Topic, "retry")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait *= 2
	}

	d.metrics.EventHandled(ev.Topic, "failed")
	l.Error("event handler gave up, manual reconciliation required", zap.Error(err))
	return false
}
