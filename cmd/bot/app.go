package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/suspectuso/lesson-bot/internal/config"
	"github.com/suspectuso/lesson-bot/internal/dedup"
	"github.com/suspectuso/lesson-bot/internal/lesson"
	"github.com/suspectuso/lesson-bot/internal/notifier"
	"github.com/suspectuso/lesson-bot/internal/payment"
	"github.com/suspectuso/lesson-bot/internal/scheduler"
	"github.com/suspectuso/lesson-bot/internal/storage"
	"github.com/suspectuso/lesson-bot/internal/telegram"
	"github.com/suspectuso/lesson-bot/internal/tonapi"
)

// app owns every long-lived component. Close releases them in reverse order.
type app struct {
	cfg *config.Config
	log *slog.Logger

	store     *storage.Storage
	redis     *redis.Client
	tonAPI    *tonapi.Client
	bot       *telegram.Bot
	queue     *notifier.Queue
	scheduler *scheduler.Scheduler
}

// newApp wires storage, transport and the delivery path. Payment handling is
// attached separately by registerHandlers.
func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.Info("storage initialized", "path", cfg.DBPath)

	// Initialize TonAPI client
	tonAPI := tonapi.NewClient(cfg.TonAPIBaseURL, cfg.TonAPIKey)
	log.Info("tonapi client initialized", "base_url", cfg.TonAPIBaseURL)

	// Initialize telegram bot
	bot, err := telegram.New(cfg, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	log.Info("telegram bot initialized")

	queue := notifier.NewQueue(bot, cfg.QueueSize, cfg.SendInterval, log)

	generator := lesson.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.Language, cfg.LLMTimeout)
	sched := scheduler.New(store, generator, queue, cfg.DailyHour, cfg.DailyMinute, loc, log)

	return &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		tonAPI:    tonAPI,
		bot:       bot,
		queue:     queue,
		scheduler: sched,
	}, nil
}

// registerHandlers builds the payment path and attaches the chat handlers.
func (a *app) registerHandlers(ctx context.Context) {
	wallet := tonapi.NormalizeAddress(a.cfg.ServiceWalletAddr)

	ledger := payment.NewLedger(payment.DefaultLedgerDepth)
	reconciler := payment.NewReconciler(
		payment.ReconcilerConfig{
			ServiceWallet:    wallet,
			PageSize:         a.cfg.TxPageSize,
			MaxAttempts:      a.cfg.ReconcileAttempts,
			Delay:            a.cfg.ReconcileDelay,
			SubscriptionDays: a.cfg.SubscriptionDays,
		},
		ledger,
		a.tonAPI,
		a.store,
		payment.Matcher{TokenMaster: tonapi.NormalizeAddress(a.cfg.TokenMasterAddr)},
		a.log,
	)

	a.bot.Register(telegram.Deps{
		Store:      a.store,
		Ledger:     ledger,
		References: payment.NewReferenceGenerator(a.cfg.ReferenceNamespace),
		Quoter:     payment.NewQuoter(a.tonAPI, a.cfg.FeeUSD, a.cfg.TokenDecimals, a.cfg.FallbackTONUSD, a.log),
		Reconciler: reconciler,
		Activator:  a.scheduler,
		Dedup:      a.deduplicator(ctx),
	})
}

// deduplicator prefers Redis when configured and reachable.
func (a *app) deduplicator(ctx context.Context) dedup.Deduplicator {
	if a.cfg.RedisAddr == "" {
		a.log.Info("dedup: in-memory", "ttl", a.cfg.DedupTTL, "capacity", a.cfg.DedupCapacity)
		return dedup.NewMemory(a.cfg.DedupTTL, a.cfg.DedupCapacity)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.log.Warn("redis unavailable, using in-memory dedup", "addr", a.cfg.RedisAddr, "error", err)
		client.Close()
		return dedup.NewMemory(a.cfg.DedupTTL, a.cfg.DedupCapacity)
	}

	a.redis = client
	a.log.Info("dedup: redis", "addr", a.cfg.RedisAddr, "ttl", a.cfg.DedupTTL)
	return dedup.NewRedis(client, a.cfg.DedupTTL, a.log)
}

// checkWallet logs the service wallet state so a misconfigured address shows up at startup.
func (a *app) checkWallet(ctx context.Context) {
	info, err := a.tonAPI.GetAccountInfo(ctx, a.cfg.ServiceWalletAddr)
	if err != nil {
		a.log.Warn("service wallet lookup failed", "address", a.cfg.ServiceWalletAddr, "error", err)
		return
	}
	a.log.Info("service wallet",
		"address", tonapi.RawToFriendly(info.Address),
		"status", info.Status,
		"balance_ton", tonapi.NanoToTON(info.Balance),
	)
}

// serve runs the delivery queue, the daily scheduler and bot polling until ctx ends.
func (a *app) serve(ctx context.Context) error {
	a.registerHandlers(ctx)
	a.checkWallet(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.queue.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Start(ctx)
	})
	g.Go(func() error {
		a.log.Info("starting bot polling...")
		a.bot.Start(ctx)
		return nil
	})
	return g.Wait()
}

// fanout runs one daily fan-out and returns once every queued lesson was handed
// to the chat API.
func (a *app) fanout(ctx context.Context, force bool) (scheduler.Report, error) {
	done := make(chan struct{})
	go func() {
		a.queue.Run(ctx)
		close(done)
	}()

	var (
		report scheduler.Report
		ran    = true
		err    error
	)
	if force {
		report, err = a.scheduler.Run(ctx)
	} else {
		report, ran, err = a.scheduler.RunOnce(ctx)
	}

	a.log.Info("waiting for deliveries", "queued", a.queue.Len())
	a.queue.Close()
	<-done

	if err == nil && !ran {
		a.log.Info("fan-out skipped, already ran today (use --force to override)")
	}
	return report, err
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("close storage", "error", err)
	}
}
