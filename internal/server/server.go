package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pocketmoney/internal/allowance"
	"github.com/dukerupert/pocketmoney/internal/backup"
	"github.com/dukerupert/pocketmoney/internal/chore"
	"github.com/dukerupert/pocketmoney/internal/clock"
	"github.com/dukerupert/pocketmoney/internal/handler"
	"github.com/dukerupert/pocketmoney/internal/ledger"
	"github.com/dukerupert/pocketmoney/internal/metrics"
	"github.com/dukerupert/pocketmoney/internal/middleware"
	"github.com/dukerupert/pocketmoney/internal/push"
	ws "github.com/dukerupert/pocketmoney/internal/websocket"
)

// Deps are the services the HTTP API fronts. Push and Backups may be nil
// when they are not configured.
type Deps struct {
	Engine    *ledger.Engine
	Allowance *allowance.Scheduler
	Chores    *chore.Service
	Push      *push.Service
	Backups   *backup.Manager
	Hub       *ws.Hub
	Tokens    middleware.TokenParser
	Clock     clock.Clock
	// Ping checks the database for /health.
	Ping func(ctx context.Context) error

	OriginPatterns []string
	// MutationsPerMinute caps write requests per actor. Zero disables it.
	MutationsPerMinute int
}

type Server struct {
	deps        Deps
	accountH    *handler.AccountHandler
	choreH      *handler.ChoreHandler
	pushH       *handler.PushHandler
	backupH     *handler.BackupHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:        deps,
		accountH:    handler.NewAccountHandler(deps.Engine, deps.Allowance, logger.With("component", "account")),
		choreH:      handler.NewChoreHandler(deps.Chores, logger.With("component", "chore")),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
	if deps.Push != nil && deps.Push.Enabled() {
		s.pushH = handler.NewPushHandler(deps.Push, deps.Engine, deps.Clock, logger.With("component", "push_handler"))
	}
	if deps.Backups != nil {
		s.backupH = handler.NewBackupHandler(deps.Backups, logger.With("component", "backup_handler"))
	}
	return s
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	// Accounts and ledger
	mux.Handle("GET /api/accounts", s.member(s.accountH.List))
	mux.Handle("POST /api/accounts", s.parent(s.accountH.Create))
	mux.Handle("GET /api/accounts/{id}", s.member(s.accountH.Get))
	mux.Handle("GET /api/accounts/{id}/balance", s.member(s.accountH.Balance))
	mux.Handle("GET /api/accounts/{id}/transactions", s.member(s.accountH.Transactions))
	mux.Handle("POST /api/accounts/{id}/transactions", s.parent(s.accountH.Mutate))
	mux.Handle("GET /api/accounts/{id}/verify", s.parent(s.accountH.Verify))
	mux.Handle("PUT /api/accounts/{id}/allowance", s.parent(s.accountH.SetAllowance))
	mux.Handle("POST /api/accounts/{id}/allowance/pay", s.parent(s.accountH.PayAllowance))

	// Chore templates
	mux.Handle("POST /api/templates", s.parent(s.choreH.CreateTemplate))
	mux.Handle("GET /api/accounts/{id}/templates", s.member(s.choreH.ListTemplates))
	mux.Handle("PUT /api/templates/{id}", s.parent(s.choreH.UpdateTemplate))
	mux.Handle("GET /api/templates/{id}/upcoming", s.member(s.choreH.Upcoming))

	// Chore instances. Children start and complete; parents review.
	mux.Handle("POST /api/chores", s.parent(s.choreH.Create))
	mux.Handle("GET /api/chores", s.member(s.choreH.List))
	mux.Handle("GET /api/chores/{id}", s.member(s.choreH.Get))
	mux.Handle("POST /api/chores/{id}/start", s.memberWrite(s.choreH.Start))
	mux.Handle("POST /api/chores/{id}/complete", s.memberWrite(s.choreH.Complete))
	mux.Handle("POST /api/chores/{id}/approve", s.parent(s.choreH.Approve))
	mux.Handle("POST /api/chores/{id}/reject", s.parent(s.choreH.Reject))
	mux.Handle("POST /api/chores/{id}/expire", s.parent(s.choreH.Expire))

	// Push notification API routes
	if s.pushH != nil {
		mux.Handle("GET /api/push/vapid-key", s.member(s.pushH.VAPIDKey))
		mux.Handle("POST /api/push/subscribe", s.memberWrite(s.pushH.Subscribe))
		mux.Handle("DELETE /api/push/subscriptions/{id}", s.memberWrite(s.pushH.Unsubscribe))
	}

	if s.backupH != nil {
		mux.Handle("POST /api/backups", s.parent(s.backupH.Run))
		mux.Handle("GET /api/backups", s.parent(s.backupH.List))
	}

	// WebSocket
	mux.Handle("GET /ws", s.member(ws.HandleWebSocket(s.deps.Hub, s.deps.OriginPatterns, s.logger.With("component", "websocket"))))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

// member requires any authenticated actor.
func (s *Server) member(h http.HandlerFunc) http.Handler {
	return middleware.RequireActor(s.deps.Tokens)(h)
}

// memberWrite is member plus the per-actor write limit.
func (s *Server) memberWrite(h http.HandlerFunc) http.Handler {
	return middleware.RequireActor(s.deps.Tokens)(s.limited(h))
}

// parent requires a parent actor and applies the write limit to anything
// other than reads.
func (s *Server) parent(h http.HandlerFunc) http.Handler {
	return middleware.RequireActor(s.deps.Tokens)(middleware.RequireParent(s.limited(h)))
}

func (s *Server) limited(h http.HandlerFunc) http.Handler {
	if s.deps.MutationsPerMinute <= 0 {
		return h
	}
	rl := middleware.RateLimit(s.rateLimiter, middleware.ActorKey, s.deps.MutationsPerMinute, time.Minute)(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h(w, r)
			return
		}
		rl.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ping(ctx); err != nil {
			s.logger.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
