package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"trackhub/api"
	"trackhub/outbox"
	"trackhub/project"
	"trackhub/storage"
	"trackhub/task"
)

func main() {
	logger := log.New()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		logger.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		logger.Fatal("missing storage config")
	}
	opTimeout := 15 * time.Second
	if v := os.Getenv("STORAGE_OP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Fatalf("invalid STORAGE_OP_TIMEOUT: %v", err)
		}
		opTimeout = d
	}
	store, err := storage.New(connStr, tablesFromEnv(), opTimeout)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	provisionCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = store.EnsureProvisioned(provisionCtx)
	cancel()
	if err != nil {
		logger.Fatalf("provision storage: %v", err)
	}

	events := outbox.New(outbox.Config{}, store, logger)

	tasks := task.NewService(store, events, logger)
	projects := project.NewService(store, events, logger)

	var auth *api.Auth
	if os.Getenv("LOCAL_AUTH_MODE") != "" {
		auth = api.NewAuth(nil, "", "")
	} else {
		audience := os.Getenv("AUTH_AUDIENCE")
		domain := os.Getenv("AUTH_DOMAIN")
		if audience == "" || domain == "" {
			logger.Fatal("missing auth config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, audience, "https://"+domain+"/")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, tasks, projects, store, store, auth)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("LISTEN_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil {
			logger.WithError(err).Info("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	// Flush buffered events before exiting so accepted writes publish.
	events.Shutdown()
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
