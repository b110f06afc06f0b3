// Package main запускает HTTP-сервер сервиса выдачи подарочных карт.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/giftcard-fulfillment/internal/allocator"
	"github.com/mmeshcher/giftcard-fulfillment/internal/config"
	"github.com/mmeshcher/giftcard-fulfillment/internal/delivery"
	"github.com/mmeshcher/giftcard-fulfillment/internal/eventlog"
	"github.com/mmeshcher/giftcard-fulfillment/internal/fulfillment"
	"github.com/mmeshcher/giftcard-fulfillment/internal/handler"
	"github.com/mmeshcher/giftcard-fulfillment/internal/mailer"
	"github.com/mmeshcher/giftcard-fulfillment/internal/metrics"
	"github.com/mmeshcher/giftcard-fulfillment/internal/middleware"
	"github.com/mmeshcher/giftcard-fulfillment/internal/normalizer"
	"github.com/mmeshcher/giftcard-fulfillment/internal/ordersystem"
	"github.com/mmeshcher/giftcard-fulfillment/internal/repository"
	"github.com/mmeshcher/giftcard-fulfillment/internal/service"
	"github.com/mmeshcher/giftcard-fulfillment/internal/voucher"
)

type giftCardMailer interface {
	delivery.Notifier
	service.TestMailer
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		sugar.Fatalw("catalog error", "error", err.Error(), "file", cfg.CatalogFile)
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var queue delivery.Queue = delivery.NewMemoryQueue()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			sugar.Fatalw("redis connection error", "error", err.Error(), "addr", cfg.RedisAddr)
		}
		queue = delivery.NewRedisQueue(rdb, delivery.DefaultRedisKey)
		sugar.Infow("delivery queue backed by redis", "addr", cfg.RedisAddr)
	} else {
		sugar.Warn("REDIS_ADDR not set, pending deliveries are kept in memory")
	}

	renderer := voucher.NewRenderer(voucher.Options{
		ShopName:      cfg.ShopName,
		CurrencyLabel: cfg.CurrencyLabel,
		LogoPath:      cfg.VoucherLogoPath,
	})

	var mail giftCardMailer = mailer.Noop{Logger: logger}
	if cfg.SMTP.Enabled() {
		mail = mailer.NewSMTP(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.Sender,
		}, cfg.ShopName, cfg.CurrencyLabel)
	} else {
		sugar.Warn("SMTP not configured, gift card emails are disabled")
	}

	var notes delivery.OrderNoter = ordersystem.Disabled{}
	if cfg.OrderSystemDomain != "" && cfg.OrderSystemAPIKey != "" {
		notes = ordersystem.NewClient(cfg.OrderSystemDomain, cfg.OrderSystemAPIKey)
	}

	executor := delivery.NewExecutor(renderer, mail, notes, cfg.CurrencyLabel, logger, m)
	worker := delivery.NewWorker(queue, executor, logger, cfg.DeliveryPollInterval, cfg.DeliveryMaxAttempts)

	reconciler := fulfillment.NewReconciler(
		normalizer.New(catalog),
		allocator.New(repo),
		delivery.NewScheduler(queue, cfg.NotifyDelay),
		eventlog.NewRecorder(repo, logger),
		m,
		logger,
		cfg.AllocationTimeout,
	)

	svc := service.NewService(repo, reconciler, renderer, mail, catalog.Denominations())

	h := handler.NewHandler(
		svc,
		logger,
		middleware.NewAdminAuth(cfg.AdminToken),
		middleware.NewWebhookAuth(cfg.WebhookToken),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	)
	if cfg.AdminToken == "" {
		sugar.Warn("ADMIN_TOKEN not set, admin endpoints are closed")
	}

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск обработчика отложенной доставки
	g.Go(func() error {
		worker.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting giftcard server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if mq, ok := queue.(*delivery.MemoryQueue); ok && mq.Len() > 0 {
			sugar.Warnw("pending deliveries dropped on shutdown", "jobs", mq.Len())
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
