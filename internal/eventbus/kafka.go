package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"ordercore/internal/pkg/metrics"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBus はトピックごとにconsumer groupのreaderを持つ。
// offsetはハンドラを呼び終えてからcommitする。リトライを使い切ったメッセージは
// 補償漏れとしてErrorログに残したうえでcommitし、再配信はしない。
// 停止で処理が中断したメッセージだけはcommitせず、次の起動で読み直す。
type KafkaBus struct {
	brokers []string
	groupID string
	writer  *kafka.Writer

	mu       sync.Mutex
	handlers map[string][]Handler
	readers  []*kafka.Reader
	started  bool

	d      dispatcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewKafkaBus(brokers []string, groupID string, logger *zap.Logger, m *metrics.Metrics) *KafkaBus {
	l := logger.Named("eventbus.kafka")
	return &KafkaBus{
		brokers: brokers,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			Logger:                 kafka.LoggerFunc(l.Sugar().Debugf),
			ErrorLogger:            kafka.LoggerFunc(l.Sugar().Errorf),
		},
		handlers: map[string][]Handler{},
		d: dispatcher{
			attempts: defaultAttempts,
			backoff:  defaultBackoff,
			logger:   l,
			metrics:  m,
		},
	}
}

func (b *KafkaBus) Name() string { return "eventbus.kafka" }

func (b *KafkaBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish はKeyをメッセージキーにする（同じ注文のイベントは同じパーティションへ）
func (b *KafkaBus) Publish(ctx context.Context, topic, key string, payload any) error {
	ev, err := NewEvent(topic, key, payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		b.d.logger.Error("failed to produce event", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *KafkaBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true

	ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for topic, hs := range b.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     b.brokers,
			Topic:       topic,
			GroupID:     b.groupID,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     time.Second,
			StartOffset: kafka.FirstOffset,
			Logger:      kafka.LoggerFunc(b.d.logger.Sugar().Debugf),
			ErrorLogger: kafka.LoggerFunc(b.d.logger.Sugar().Errorf),
		})
		b.readers = append(b.readers, reader)

		b.wg.Add(1)
		go b.consume(ctx, reader, append([]Handler(nil), hs...))
		b.d.logger.Info("kafka consumer started",
			zap.String("topic", topic),
			zap.String("group_id", b.groupID),
			zap.Strings("brokers", b.brokers))
	}
	return nil
}

// messageReader は *kafka.Reader のうちconsumeが使う部分
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (b *KafkaBus) consume(ctx context.Context, reader messageReader, handlers []Handler) {
	defer b.wg.Done()
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			b.d.logger.Error("error fetching message from kafka", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var ev Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			// 壊れたメッセージは読み飛ばす
			b.d.logger.Error("malformed event, skipping",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			b.commit(ctx, reader, m)
			continue
		}

		ok := true
		for _, h := range handlers {
			if !b.d.deliver(ctx, h, ev) {
				ok = false
			}
		}
		if ctx.Err() != nil {
			return
		}
		if !ok {
			b.d.logger.Error("event dropped after retries, committing offset",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.String("event_id", ev.ID))
		}
		b.commit(ctx, reader, m)
	}
}

func (b *KafkaBus) commit(ctx context.Context, reader messageReader, m kafka.Message) {
	if err := reader.CommitMessages(ctx, m); err != nil {
		b.d.logger.Error("failed to commit offset",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
	}
}

func (b *KafkaBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	readers := b.readers
	b.readers = nil
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
