package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dukerupert/pocketmoney/internal/auth"
	"github.com/dukerupert/pocketmoney/internal/config"
	"github.com/dukerupert/pocketmoney/internal/logging"
	"github.com/dukerupert/pocketmoney/internal/server"
	"github.com/dukerupert/pocketmoney/internal/worker"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: pocketmoney <command> [flags]

commands:
  serve        run the HTTP API and background worker (default)
  token        issue a bearer token for an actor
  generate     run the background jobs once and exit
  restore      download a backup into a new database file and verify it
  vapid-keys   generate a web push key pair`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	// Key generation needs no configuration.
	if cmd == "vapid-keys" {
		return vapidKeys()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	switch cmd {
	case "serve":
		return serve(cfg, logger)
	case "token":
		return issueToken(cfg, args)
	case "generate":
		return generate(cfg, logger)
	case "restore":
		return restore(cfg, logger, args)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(server.Deps{
		Engine:             a.engine,
		Allowance:          a.allowance,
		Chores:             a.chores,
		Push:               a.push,
		Backups:            a.backups,
		Hub:                a.hub,
		Tokens:             auth.NewTokens(cfg.JWTSecret),
		Clock:              a.clock,
		Ping:               a.ping,
		OriginPatterns:     cfg.OriginPatterns,
		MutationsPerMinute: cfg.MutationsPerMinute,
	}, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	w := worker.New(cfg.WorkerInterval, a.clock, logger, a.jobs()...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("pocketmoney running", "addr", httpServer.Addr, "db_driver", cfg.DBDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		w.Start(gctx)
		<-gctx.Done()
		w.Stop()
		return nil
	})
	g.Go(func() error {
		srv.RateLimiter().RunCleanup(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}
