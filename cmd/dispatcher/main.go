package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"trackhub/dispatch"
	"trackhub/domain"
	"trackhub/storage"
)

func main() {
	logger := log.New()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		logger.SetLevel(log.DebugLevel)
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracer provider shutdown")
		}
	}()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		logger.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tablesFromEnv(), 15*time.Second)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	provisionCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = store.EnsureProvisioned(provisionCtx)
	cancel()
	if err != nil {
		logger.Fatalf("provision storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		logger.Fatal("missing redis config")
	}
	rc := redis.NewClient(redisOptions(redisConn))

	ttl := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		ttl = d
	}
	deduper := dispatch.NewRedisDeduper(rc, ttl)

	senders := map[domain.Channel]dispatch.Sender{
		domain.ChannelInApp: dispatch.NewInAppSender(store),
		domain.ChannelEmail: dispatch.NewLogSender(domain.ChannelEmail, logger),
		domain.ChannelPush:  dispatch.NewLogSender(domain.ChannelPush, logger),
	}

	workers := 4
	if v := os.Getenv("DISPATCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			logger.Fatalf("invalid DISPATCH_WORKERS: %v", err)
		}
		workers = n
	}
	dispatcher := dispatch.New(store, store, store, senders, deduper, logger, dispatch.Config{
		Workers: workers,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("dispatcher stopped")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/stats", func(c echo.Context) error {
		depth, err := store.QueueDepth(c.Request().Context())
		if err != nil {
			logger.WithError(err).Warn("queue depth unavailable")
		}
		return c.JSON(http.StatusOK, map[string]any{
			"dispatcher": dispatcher.Stats(),
			"queueDepth": depth,
		})
	})

	listenAddr := ":8081"
	if val, ok := os.LookupEnv("LISTEN_PORT"); ok {
		listenAddr = ":" + val
	}
	go func() {
		if err := e.Start(listenAddr); err != nil {
			logger.WithError(err).Info("stats server stopped")
		}
	}()

	<-ctx.Done()
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("stats server shutdown")
	}
}

// redisOptions accepts either a redis URL or the comma-separated
// "host:port,password=...,ssl=true" form used by managed caches.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func tablesFromEnv() storage.Tables {
	return storage.Tables{
		Tasks:         envOr("TASKS_TABLE", "tasks"),
		Projects:      envOr("PROJECTS_TABLE", "projects"),
		ProjectKeys:   envOr("PROJECT_KEYS_TABLE", "projectkeys"),
		Comments:      envOr("COMMENTS_TABLE", "comments"),
		Notifications: envOr("NOTIFICATIONS_TABLE", "notifications"),
		Preferences:   envOr("PREFERENCES_TABLE", "preferences"),
		EventQueue:    envOr("DOMAIN_EVENTS_QUEUE", "domain-events"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
