package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/pocketmoney/internal/auth"
	"github.com/dukerupert/pocketmoney/internal/clock"
	"github.com/dukerupert/pocketmoney/internal/config"
	"github.com/dukerupert/pocketmoney/internal/database"
	"github.com/dukerupert/pocketmoney/internal/ledger"
	"github.com/dukerupert/pocketmoney/internal/push"
	"github.com/dukerupert/pocketmoney/internal/store"
	"github.com/dukerupert/pocketmoney/internal/worker"
)

func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "actor id recorded on transactions")
	role := fs.String("role", string(auth.RoleChild), "parent or child")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw, err := auth.NewTokens(cfg.JWTSecret).Issue(auth.Actor{ID: *sub, Role: auth.Role(*role)}, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(raw)
	return nil
}

// generate runs a single worker pass, for cron-driven deployments.
func generate(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	worker.New(cfg.WorkerInterval, a.clock, logger, a.jobs()...).RunOnce(ctx)
	return nil
}

func restore(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	id := fs.Int64("id", 0, "backup id to restore")
	out := fs.String("out", "", "path of the new database file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 || *out == "" {
		return errors.New("restore needs -id and -out")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.backups == nil {
		return errors.New("backups are not configured")
	}
	if err := a.backups.RestoreTo(ctx, *id, *out); err != nil {
		return fmt.Errorf("restore backup %d: %w", *id, err)
	}

	return verifyRestored(ctx, *out, logger)
}

// verifyRestored replays every account in the restored file.
func verifyRestored(ctx context.Context, path string, logger *slog.Logger) error {
	db, err := database.Open(path)
	if err != nil {
		return fmt.Errorf("open restored database: %w", err)
	}
	defer db.Close()

	engine := ledger.NewEngine(store.NewSQLiteStore(db), clock.Real(), nil, logger, ledger.Options{})
	accounts, err := engine.ListAccounts(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, acct := range accounts {
		if err := engine.Verify(ctx, acct.ID); err != nil {
			logger.Error("account failed verification", "account_id", acct.ID, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed verification", failed, len(accounts))
	}

	fmt.Fprintf(os.Stdout, "restored %s, %d accounts verified\n", path, len(accounts))
	return nil
}

func vapidKeys() error {
	public, private, err := push.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Printf("POCKETMONEY_VAPID_PUBLIC_KEY=%s\nPOCKETMONEY_VAPID_PRIVATE_KEY=%s\n", public, private)
	return nil
}
