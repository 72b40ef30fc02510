package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ordercore/internal/config"
	"ordercore/internal/eventbus"
	"ordercore/internal/handler"
	"ordercore/internal/infra/db"
	infraRepo "ordercore/internal/infra/repository"
	"ordercore/internal/listener"
	"ordercore/internal/payment"
	"ordercore/internal/pkg/logging"
	"ordercore/internal/pkg/metrics"
	"ordercore/internal/pkg/outbound"
	"ordercore/internal/server"
	"ordercore/internal/settings"
	"ordercore/internal/shipping"
	"ordercore/internal/usecase"
	"ordercore/internal/validator"
	"ordercore/internal/worker"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	//.envは無くてもよい（環境変数で直接渡す場合）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger("ordercore", cfg.GoEnv, cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithLogger(ctx, logger)

	//DB接続
	gormDB, err := db.Connect(cfg.DSN())
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	//メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	//Repository（GORM実装）生成
	txm := infraRepo.NewTxManagerGorm(gormDB)
	walletRepo := infraRepo.NewWalletGormRepository(gormDB)
	settingRepo := infraRepo.NewSettingGormRepository(gormDB)

	//ゲートウェイ・配送業者の認証情報
	loader := settings.NewLoader(settingRepo)
	if _, err := loader.Refresh(ctx); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	//外部API
	client := outbound.New(cfg.GatewayTimeout, m)
	gateways := payment.NewRegistry(
		payment.NewZaloPay(loader, client, cfg.PublicBaseURL+"/webhooks/zalopay"),
		payment.NewPayPal(loader, client),
		payment.NewSePay(loader),
	)
	carrier := shipping.NewClient(loader, client)

	//イベントバス
	var bus eventbus.Bus
	switch cfg.EventBus {
	case "kafka":
		bus = eventbus.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaGroupID, logger, m)
	default:
		bus = eventbus.NewMemoryBus(logger, m)
	}

	//Usecase生成
	ledger := usecase.NewWalletLedger(txm, walletRepo)
	orderUC := usecase.NewOrderUsecase(txm, validator.NewOrderValidator(), ledger, gateways, carrier, bus, cfg, m)
	adminOrderUC := usecase.NewAdminOrderUsecase(txm, ledger, carrier, bus)
	paymentUC := usecase.NewPaymentUsecase(txm, gateways, m)
	compensationUC := usecase.NewCompensationUsecase(txm, ledger)

	listener.New(compensationUC).Register(bus)

	//バックグラウンド処理
	workers := worker.NewRegistry(logger)
	workers.Register(bus)
	workers.Register(worker.NewShipmentPoller(
		txm.Repos().Orders(), carrier, adminOrderUC, cfg.ShipmentPollInterval, logger, m))
	if err := workers.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	//Handler生成
	e := server.New(cfg, logger, reg, server.Handlers{
		Order:      handler.NewOrderHandler(orderUC, paymentUC),
		AdminOrder: handler.NewAdminOrderHandler(adminOrderUC),
		Wallet:     handler.NewWalletHandler(ledger),
		Webhook:    handler.NewWebhookHandler(paymentUC),
		Shipping:   handler.NewShippingHandler(carrier),
		System:     handler.NewSystemHandler(loader, settingRepo, db.Ping(gormDB)),
	})

	//Server起動
	addr := cfg.Port
	if addr != "" && addr[0] != ':' {
		addr = ":" + addr
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", addr), zap.String("event_bus", bus.Name()))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serveErr = <-errCh:
	}

	//HTTPを先に止めてからworkerを止める
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := workers.Stop(shutdownCtx); err != nil {
		logger.Warn("workers shutdown", zap.Error(err))
	}
	return serveErr
}
