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

	"github.com/DoyleJ11/secret-word-backend/internal/config"
	"github.com/DoyleJ11/secret-word-backend/internal/httpapi"
	"github.com/DoyleJ11/secret-word-backend/internal/hub"
	"github.com/DoyleJ11/secret-word-backend/internal/lobby"
	"github.com/DoyleJ11/secret-word-backend/internal/logger"
	"github.com/DoyleJ11/secret-word-backend/internal/store"
	"github.com/DoyleJ11/secret-word-backend/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	lgr, err := logger.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer lgr.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := lobby.NewService(st, cfg.Rules(), lobby.WithCodes(cfg.Codes()))
	h := hub.NewHub(ctx, svc)

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, svc, ws.Options{
		GuessRate:  rate.Limit(cfg.WS.GuessRate),
		GuessBurst: cfg.WS.GuessBurst,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// The hub shares ctx and may already be stopping on its own.
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-h.Done():
		}
		<-h.Done()
		return err
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	opts := cfg.StoreOptions()
	switch cfg.Store.Driver {
	case "redis":
		return store.NewRedisStore(ctx, cfg.Store.RedisURL, opts)
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.PostgresDSN, opts)
	default:
		return store.NewMemoryStore(opts), nil
	}
}
