package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/round-sync/internal/cache"
	"github.com/DoyleJ11/round-sync/internal/config"
	"github.com/DoyleJ11/round-sync/internal/countdown"
	"github.com/DoyleJ11/round-sync/internal/dispatch"
	"github.com/DoyleJ11/round-sync/internal/httpapi"
	"github.com/DoyleJ11/round-sync/internal/hub"
	"github.com/DoyleJ11/round-sync/internal/intent"
	"github.com/DoyleJ11/round-sync/internal/logger"
	"github.com/DoyleJ11/round-sync/internal/room"
	"github.com/DoyleJ11/round-sync/internal/store"
	"github.com/DoyleJ11/round-sync/internal/wallet"
	"github.com/DoyleJ11/round-sync/internal/ws"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) (err error) {
	var observers []room.Observer
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			err = multierr.Append(err, c.Close())
		}
	}()

	var history httpapi.HistorySource
	if cfg.DBDriver != "" {
		db, err := store.Open(cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open %s: %w", cfg.DBDriver, err)
		}
		st := store.New(db, cfg.HistoryKeep, log)
		closers = append(closers, st)
		if err := st.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		observers = append(observers, st)
		history = st
		log.Info("history store ready", zap.String("driver", cfg.DBDriver))
	}

	var snapshots httpapi.SnapshotSource
	if cfg.RedisAddr != "" {
		c := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.SnapshotTTL, log)
		closers = append(closers, c)
		if err := c.Ping(ctx); err != nil {
			log.Warn("snapshot cache unreachable, continuing", zap.Error(err))
		}
		observers = append(observers, c)
		snapshots = c
	}

	h := hub.NewHub(ctx, room.Options{Logger: log, Observers: observers})
	w := wallet.New()
	d := dispatch.New(h, w, cfg.Rooms, log)
	for name := range cfg.Rooms {
		if _, err := d.Room(ctx, name); err != nil {
			return fmt.Errorf("room %s: %w", name, err)
		}
	}

	upstream := ws.NewUpstream(cfg.UpstreamURL, cfg.RoomNames(), cfg.ReconnectDelay, d, h, log)
	svc := intent.NewService(d, w, upstream, log)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:        h,
			Dispatcher: d,
			Intents:    svc,
			Wallet:     w,
			History:    history,
			Snapshots:  snapshots,
			PageSize:   cfg.HistoryPageSize,
			Ticker:     countdown.NewTicker(),
			Origins:    cfg.AllowedOrigins,
			Logger:     log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.UpstreamURL != "" {
		g.Go(func() error { return upstream.Run(gctx) })
	} else {
		log.Warn("UPSTREAM_URL not set, rooms only change through POST /events")
	}

	return g.Wait()
}
