package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/pocketmoney/internal/allowance"
	"github.com/dukerupert/pocketmoney/internal/backup"
	"github.com/dukerupert/pocketmoney/internal/chore"
	"github.com/dukerupert/pocketmoney/internal/clock"
	"github.com/dukerupert/pocketmoney/internal/config"
	"github.com/dukerupert/pocketmoney/internal/database"
	"github.com/dukerupert/pocketmoney/internal/email"
	"github.com/dukerupert/pocketmoney/internal/ledger"
	"github.com/dukerupert/pocketmoney/internal/notify"
	"github.com/dukerupert/pocketmoney/internal/push"
	"github.com/dukerupert/pocketmoney/internal/recurrence"
	"github.com/dukerupert/pocketmoney/internal/store"
	ws "github.com/dukerupert/pocketmoney/internal/websocket"
	"github.com/dukerupert/pocketmoney/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
)

// app holds every long-lived service built from the configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	db    *sql.DB
	pool  *pgxpool.Pool
	store store.Store

	dispatcher *notify.Dispatcher
	amqp       *notify.AMQPSink
	hub        *ws.Hub

	engine    *ledger.Engine
	allowance *allowance.Scheduler
	chores    *chore.Service
	generator *recurrence.Generator
	push      *push.Service
	backups   *backup.Manager
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, clock: clock.Real()}

	switch cfg.DBDriver {
	case "postgres":
		pool, err := database.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.pool = pool
		a.store = store.NewPostgresStore(pool)
	default:
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		a.store = store.NewSQLiteStore(db)
	}

	a.hub = ws.NewHub(logger)
	a.dispatcher = notify.NewDispatcher(logger, 5*time.Second,
		notify.NewLogSink(logger.With("component", "events")),
		a.hub,
	)

	a.push = push.NewService(push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubscriber,
	}, a.store)
	if a.push.Enabled() {
		a.dispatcher.Add(push.NewSink(a.push, logger))
	} else {
		logger.Info("web push disabled, VAPID keys not configured")
	}

	if cfg.PostmarkToken != "" {
		client := email.NewClient(cfg.PostmarkToken, cfg.EmailFrom)
		a.dispatcher.Add(email.NewSink(client, cfg.ParentEmails, cfg.PublicURL))
	}

	if cfg.AMQPURL != "" {
		sink, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPRoutingKey)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect AMQP: %w", err)
		}
		a.amqp = sink
		a.dispatcher.Add(sink)
	}

	a.engine = ledger.NewEngine(a.store, a.clock, a.dispatcher, logger, ledger.Options{
		MaxRetries: uint64(cfg.LedgerMaxRetries),
	})
	a.allowance = allowance.NewScheduler(a.engine, a.clock, cfg.WeekStart(), logger)
	a.chores = chore.NewService(a.store, a.engine, a.clock, a.dispatcher, logger)
	a.generator = recurrence.NewGenerator(a.store, a.dispatcher, logger)

	if a.db != nil && cfg.BackupsConfigured() {
		a.backups = backup.NewManager(backup.Config{
			S3: backup.S3Config{
				Endpoint:  cfg.S3Endpoint,
				Bucket:    cfg.S3Bucket,
				Region:    cfg.S3Region,
				AccessKey: cfg.S3AccessKey,
				SecretKey: cfg.S3SecretKey,
			},
			Passphrase:    cfg.BackupPassphrase,
			Prefix:        cfg.S3Prefix,
			RetentionDays: cfg.BackupRetentionDays,
		}, a.db, store.NewBackupStore(a.db), a.clock, logger)
	}

	return a, nil
}

// jobs returns the background jobs enabled by the configuration.
func (a *app) jobs() []worker.Job {
	jobs := []worker.Job{
		worker.GenerateChores(a.generator, a.clock),
		worker.AutoApprove(a.chores),
		worker.ExpireChores(a.chores),
	}
	if a.cfg.AllowanceAutoPay {
		jobs = append(jobs, worker.PayAllowances(a.allowance))
	}
	if a.backups != nil {
		jobs = append(jobs, worker.Backup(a.backups, a.cfg.BackupInterval))
	}
	return jobs
}

func (a *app) ping(ctx context.Context) error {
	if a.pool != nil {
		return a.pool.Ping(ctx)
	}
	return a.db.PingContext(ctx)
}

// Close waits for in-flight notifications and releases connections.
func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.logger.Warn("close AMQP", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
}
