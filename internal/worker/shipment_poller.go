package worker

import (
	"context"
	"errors"
	"sync"

	"ordercore/internal/domain/model"
	"ordercore/internal/pkg/logging"
	"ordercore/internal/pkg/metrics"
	"ordercore/internal/shipping"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const pollBatchSize = 500

type ShipmentOrders interface {
	ListForShipmentSync(ctx context.Context, limit int) ([]model.Order, error)
}

type ShipmentTracker interface {
	Detail(ctx context.Context, orderCode string) (shipping.ShipmentDetail, error)
}

type ShipmentStatusApplier interface {
	ApplyShipmentStatus(ctx context.Context, orderID int64, target model.OrderStatus) (bool, error)
}

type PollSummary struct {
	Checked int
	Updated int
	Failed  int
}

// ShipmentPoller は配送業者の状態を定期的に注文へ反映する。
// 前回の実行が終わっていなければ次の実行は飛ばす。
type ShipmentPoller struct {
	orders   ShipmentOrders
	tracker  ShipmentTracker
	applier  ShipmentStatusApplier
	schedule string
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewShipmentPoller(orders ShipmentOrders, tracker ShipmentTracker, applier ShipmentStatusApplier, schedule string, logger *zap.Logger, m *metrics.Metrics) *ShipmentPoller {
	return &ShipmentPoller{
		orders:   orders,
		tracker:  tracker,
		applier:  applier,
		schedule: schedule,
		logger:   logger.Named("shipment_poller"),
		metrics:  m,
	}
}

func (p *ShipmentPoller) Name() string { return "shipment_poller" }

func (p *ShipmentPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return errors.New("shipment poller already started")
	}

	cl := cronLogger{l: p.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if _, err := c.AddFunc(p.schedule, func() {
		sum, err := p.RunOnce(runCtx)
		if err != nil {
			p.logger.Error("shipment sync failed", zap.Error(err))
			return
		}
		p.logger.Info("shipment sync done",
			zap.Int("checked", sum.Checked),
			zap.Int("updated", sum.Updated),
			zap.Int("failed", sum.Failed))
	}); err != nil {
		cancel()
		return err
	}

	c.Start()
	p.cron, p.cancel = c, cancel
	return nil
}

// Stop は実行中の同期が終わるか、ctxが切れるまで待つ
func (p *ShipmentPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel = nil, nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// RunOnce は対象の注文を1回ずつ確認する。
// 1件の失敗はログに残して次へ進む。
func (p *ShipmentPoller) RunOnce(ctx context.Context) (PollSummary, error) {
	orders, err := p.orders.ListForShipmentSync(ctx, pollBatchSize)
	if err != nil {
		p.metrics.ShipmentSync("list_failed")
		return PollSummary{}, err
	}

	var sum PollSummary
	for _, o := range orders {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Checked++

		l := p.logger.With(
			zap.String("order_number", o.OrderNumber),
			zap.String("shipment_code", o.ShipmentCode))
		octx := logging.ContextWithLogger(ctx, l)

		d, err := p.tracker.Detail(octx, o.ShipmentCode)
		if err != nil {
			l.Warn("carrier detail failed", zap.Error(err))
			p.metrics.ShipmentSync("carrier_error")
			sum.Failed++
			continue
		}

		target, ok := shipping.MapStatus(d.Status)
		if !ok {
			l.Debug("unmapped carrier status", zap.String("carrier_status", d.Status))
			p.metrics.ShipmentSync("unmapped")
			continue
		}
		if target == o.Status {
			p.metrics.ShipmentSync("unchanged")
			continue
		}

		changed, err := p.applier.ApplyShipmentStatus(octx, o.ID, target)
		if err != nil {
			l.Warn("apply carrier status failed",
				zap.String("carrier_status", d.Status),
				zap.String("target", string(target)),
				zap.Error(err))
			p.metrics.ShipmentSync("apply_failed")
			sum.Failed++
			continue
		}
		if changed {
			l.Info("order status synced from carrier",
				zap.String("from", string(o.Status)),
				zap.String("to", string(target)))
			p.metrics.ShipmentSync("updated")
			sum.Updated++
		}
	}
	return sum, nil
}

// cron.Loggerをzapへ
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
