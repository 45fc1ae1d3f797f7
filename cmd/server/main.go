package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Simplici0/roofquote/internal/config"
	"github.com/Simplici0/roofquote/internal/db"
	"github.com/Simplici0/roofquote/internal/estimating"
	"github.com/Simplici0/roofquote/internal/lock"
	"github.com/Simplici0/roofquote/internal/migrations"
	"github.com/Simplici0/roofquote/internal/seed"
	"github.com/Simplici0/roofquote/internal/store"
)

func main() {
	issueFor := flag.String("issue-token", "", "print a bearer token for the given tenant id and exit")
	flag.Parse()

	cfg := config.Load()
	log := cfg.NewLogger()

	auth := newTenantAuth(cfg.SessionSecret)
	if *issueFor != "" {
		fmt.Println(auth.issueToken(*issueFor))
		return
	}

	if err := run(cfg, log, auth); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg config.Config, log *logrus.Logger, auth *tenantAuth) error {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if cfg.IsDev() {
		if err := migrations.Up(database); err != nil {
			return fmt.Errorf("run database migrations: %w", err)
		}
	}

	if cfg.SeedDemo {
		stats, err := seed.Run(database, seed.Config{TenantID: seed.DefaultTenantID})
		if err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		log.WithFields(logrus.Fields{"inserts": stats.Inserts, "tenant_id": seed.DefaultTenantID}).Info("demo seed applied")
	}

	locker, closeLocker := newLocker(cfg, log)
	defer closeLocker()

	svc := estimating.NewService(store.New(database), locker, log)
	srv := newServer(database, svc, auth, log)

	return serve(cfg, log, srv)
}

// newLocker returns a Redis-backed locker when REDIS_ADDR is set and
// reachable, otherwise an in-process one.
func newLocker(cfg config.Config, log *logrus.Logger) (lock.Locker, func()) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, using in-process estimate locks")
		return lock.NewLocal(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).WithField("redis_addr", cfg.RedisAddr).Warn("redis unreachable, using in-process estimate locks")
		_ = client.Close()
		return lock.NewLocal(), func() {}
	}

	log.WithField("redis_addr", cfg.RedisAddr).Info("using redis estimate locks")
	return lock.NewRedis(client, 0, log), func() { _ = client.Close() }
}

func serve(cfg config.Config, log *logrus.Logger, srv *server) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("listening")
		errCh <- httpServer.ListenAndServe()
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
