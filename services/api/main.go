package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmchat/internal/config"
	"github.com/dmchat/internal/handler"
	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/middleware"
	"github.com/dmchat/internal/push"
	"github.com/dmchat/internal/realtime"
	"github.com/dmchat/internal/repository"
	"github.com/dmchat/internal/startup"
	"github.com/dmchat/internal/storage"
	"github.com/dmchat/internal/storage/memory"
	"github.com/dmchat/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory push store (no external services required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	// Push subscriptions live in Redis; -dev mode falls back to memory so
	// the service comes up with no external dependencies.
	var subStore storage.SubscriptionStore
	if *dev {
		subStore = memory.New()
	} else {
		subStore = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		logger.Info("redis connected")
	}
	defer subStore.Close()

	vapid := &push.VAPIDKeys{PublicKey: cfg.PushVAPIDPublicKey, PrivateKey: cfg.PushVAPIDPrivateKey}
	if vapid.PublicKey == "" || vapid.PrivateKey == "" {
		if keys, err := push.EnsureVAPIDKeys(""); err == nil {
			vapid = keys
		} else {
			logger.Errorf("VAPID keys unavailable: %v (push sending disabled)", err)
		}
	}
	pushSvc := push.NewService(subStore, vapid)

	userRepo := repository.NewUserRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)
	friendRepo := repository.NewFriendRepository(pool)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := realtime.NewHub(msgRepo, chatRepo, userRepo, pushSvc, cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	authH := handler.NewAuthHandler(userRepo)
	userH := handler.NewUserHandler(userRepo, hub.Registry())
	chatH := handler.NewChatHandler(chatRepo, userRepo, msgRepo, hub.Registry())
	msgH := handler.NewMessageHandler(msgRepo, chatRepo, userRepo, reactRepo, hub)
	friendH := handler.NewFriendHandler(friendRepo, userRepo)
	pushH := handler.NewPushHandler(pushSvc)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket responses: the wrapped ResponseWriter would
	// lose http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Post("/api/user", authH.Register)
	r.Post("/api/login", authH.Login)
	r.Get("/api/push/vapid-public", pushH.VAPIDPublic)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(userRepo))
		r.Get("/api/user", userH.List)
		r.Get("/api/user/online", userH.Online)
		r.Get("/api/user/{id}", userH.Get)
		r.Get("/api/chat/mine", chatH.Mine)
		r.Post("/api/chat", chatH.Create)
		r.Get("/api/chat/{chatId}", chatH.Get)
		r.Get("/api/message/{chatId}", msgH.History)
		r.Post("/api/message", msgH.Send)
		r.Get("/api/message/{messageId}/seen", msgH.SeenBy)
		r.Get("/api/message/{messageId}/reactions", msgH.ListReactions)
		r.Post("/api/message/{messageId}/reactions", msgH.AddReaction)
		r.Delete("/api/message/{messageId}/reactions", msgH.RemoveReaction)
		r.Post("/api/friend/request", friendH.SendRequest)
		r.Get("/api/friend/requests", friendH.Requests)
		r.Post("/api/friend/request/{requestId}/accept", friendH.Accept)
		r.Post("/api/friend/request/{requestId}/reject", friendH.Reject)
		r.Post("/api/friend/request/{requestId}/cancel", friendH.Cancel)
		r.Get("/api/friend/list", friendH.List)
		r.Delete("/api/friend/{userId}", friendH.Remove)
		r.Post("/api/friend/{userId}/block", friendH.Block)
		r.Delete("/api/friend/{userId}/block", friendH.Unblock)
		r.Post("/api/friend/{userId}/ignore", friendH.Ignore)
		r.Get("/api/friend/audit", friendH.AuditLog)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	// Drain HTTP first, then stop the hub so no upgrade sneaks in after the
	// hub loop exits.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// runMigrations applies every embedded .sql file in name order. Statements
// are idempotent (IF NOT EXISTS), so re-running is safe.
func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "dmchat"
		password = "dmchat_secret"
		database = "dmchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
