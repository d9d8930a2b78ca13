package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iurnickita/esbo/internal/auth"
	"github.com/iurnickita/esbo/internal/balance"
	"github.com/iurnickita/esbo/internal/capacity"
	"github.com/iurnickita/esbo/internal/config"
	"github.com/iurnickita/esbo/internal/handler"
	"github.com/iurnickita/esbo/internal/hub"
	"github.com/iurnickita/esbo/internal/locks"
	"github.com/iurnickita/esbo/internal/logger"
	"github.com/iurnickita/esbo/internal/metrics"
	"github.com/iurnickita/esbo/internal/notify"
	"github.com/iurnickita/esbo/internal/service"
	"github.com/iurnickita/esbo/internal/store"
	"github.com/iurnickita/esbo/internal/telegram"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Store.SeedFile != "" {
		if err := seed(ctx, st, cfg.Store.SeedFile, zaplog); err != nil {
			return err
		}
	}

	redisClient, err := locks.Connect(ctx, cfg.Locks)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()
	wsHub := hub.NewHub(cfg.Hub, redisClient, auth.Verify(cfg.Token), m, zaplog)
	channels := notify.Fanout{wsHub}

	// бот: токен из настроек или первого сайта, где он задан
	sites, err := st.SiteList(ctx)
	if err != nil {
		return err
	}
	var bot telegram.API
	var tgNotifier *telegram.Notifier
	if botToken := telegram.ResolveToken(cfg.Telegram, sites); botToken != "" {
		bot = telegram.NewAPI(cfg.Telegram.APIURL, botToken)
		tgNotifier = telegram.NewNotifier(bot, st, zaplog)
		channels = append(channels, tgNotifier)
	} else {
		zaplog.Warn("telegram bot token is not configured, chat channel disabled")
	}

	tracker := capacity.NewTracker(locks.NewLockStore(cfg.Locks, redisClient), st, channels, m, zaplog)
	svc := service.NewService(cfg.Service, st, tracker, channels, m, zaplog)
	defer svc.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	if bot != nil {
		router := telegram.NewRouter(cfg.Telegram, bot, svc, balance.NewBalance(st), zaplog)
		g.Go(func() error {
			tgNotifier.Run(gctx)
			return nil
		})
		g.Go(func() error {
			router.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return handler.Serve(gctx, cfg.Handler, auth.NewAuth(cfg.Auth, cfg.Token, svc), svc, wsHub, m, zaplog)
	})

	err = g.Wait()
	zaplog.Info("shutdown complete")
	return err
}

func seed(ctx context.Context, st store.Store, path string, zaplog *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	added, err := store.Seed(ctx, st, f)
	if err != nil {
		return err
	}
	zaplog.Info("reference data loaded", zap.String("file", path), zap.Int("added", added))
	return nil
}
