package eventbus

import (
	"context"
	"errors"
	"sync"

	"ordercore/internal/pkg/metrics"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("event bus closed")

const defaultBuffer = 256

// MemoryBus はトピックごとに1本のチャネルと1つのworker goroutineを持つ。
// 同じトピック内の配信順は発行順。
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	queues   map[string]chan Event
	closed   bool
	started  bool

	d      dispatcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMemoryBus(logger *zap.Logger, m *metrics.Metrics) *MemoryBus {
	return &MemoryBus{
		handlers: map[string][]Handler{},
		queues:   map[string]chan Event{},
		d: dispatcher{
			attempts: defaultAttempts,
			backoff:  defaultBackoff,
			logger:   logger.Named("eventbus"),
			metrics:  m,
		},
	}
}

func (b *MemoryBus) Name() string { return "eventbus.memory" }

// Subscribe はStartより前に呼ぶ
func (b *MemoryBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
	if _, ok := b.queues[topic]; !ok {
		b.queues[topic] = make(chan Event, defaultBuffer)
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic, key string, payload any) error {
	ev, err := NewEvent(topic, key, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	q, ok := b.queues[topic]
	if !ok {
		b.d.logger.Debug("no subscriber for topic", zap.String("topic", topic))
		return nil
	}
	select {
	case q <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true

	ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for topic, q := range b.queues {
		handlers := append([]Handler(nil), b.handlers[topic]...)
		b.wg.Add(1)
		go b.run(ctx, q, handlers)
	}
	return nil
}

func (b *MemoryBus) run(ctx context.Context, q <-chan Event, handlers []Handler) {
	defer b.wg.Done()
	for ev := range q {
		for _, h := range handlers {
			b.d.deliver(ctx, h, ev)
		}
	}
}

// Stop は新規の発行を止め、キューに残ったイベントを処理し終えるまで待つ。
// ctxが先に切れたら処理中のリトライを打ち切る。
func (b *MemoryBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	started := b.started
	b.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}
