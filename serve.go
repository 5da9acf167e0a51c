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

	"github.com/MicahParks/keyfunc"
	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sadik-Sami/ToDo-DnD/api"
	"github.com/Sadik-Sami/ToDo-DnD/broadcast"
	"github.com/Sadik-Sami/ToDo-DnD/config"
	"github.com/Sadik-Sami/ToDo-DnD/domain"
	"github.com/Sadik-Sami/ToDo-DnD/storage"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and live sync stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetString("port"); port != "" {
				cfg.Port = port
			}
			setupLogging(cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().String("port", "", "listen port, overrides PORT")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	backend, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	hub := broadcast.NewHub(cfg.SessionBuffer)
	deps := api.Deps{
		Hub:       hub,
		Logger:    log.StandardLogger(),
		Heartbeat: cfg.StreamHeartbeat,
	}

	var store storage.Backend = backend
	if cfg.RedisConnectionString != "" {
		rc := redis.NewClient(cfg.RedisOptions())
		defer rc.Close()

		store = storage.NewCache(backend, rc, cfg.TasksCacheTTL)
		deps.Deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)

		relay := broadcast.NewRelay(rc, cfg.BroadcastChannel, hub)
		go relay.Run(ctx)
		select {
		case <-relay.Ready():
			log.WithField("channel", cfg.BroadcastChannel).Info("event relay subscribed")
		case <-time.After(5 * time.Second):
			log.Warn("event relay not ready yet, continuing")
		case <-ctx.Done():
			return nil
		}
		deps.Publisher = relay
	}
	deps.Tasks = domain.NewTaskService(store)
	deps.Users = domain.NewUserService(store)
	deps.Store = store

	auth, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}
	deps.Auth = auth

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(echoprometheus.NewMiddleware("taskboard"))
	api.Register(e, deps)

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"port": cfg.Port, "backend": cfg.StorageBackend, "auth": cfg.AuthEnabled()}).Info("taskboard listening")
		errCh <- e.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openBackend(cfg config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.BackendTable:
		st, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.UsersTable)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		log.Warn("using in-memory storage, data is lost on restart")
		return storage.NewMemoryStore(), nil
	}
}

// newAuthenticator returns nil when no identity provider is configured, which
// leaves the API anonymous.
func newAuthenticator(cfg config.Config) (api.Authenticator, error) {
	var jwks *keyfunc.JWKS
	switch {
	case cfg.LocalAuthMode == "hs256":
		log.Warn("local HS256 auth enabled")
	case cfg.Auth0Domain != "":
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		var err error
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
	default:
		log.Warn("no identity provider configured, requests are anonymous")
		return nil, nil
	}
	v, err := api.NewVerifier(api.VerifierConfigFrom(cfg, jwks))
	if err != nil {
		return nil, err
	}
	return v, nil
}
