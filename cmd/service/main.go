package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/dirk.krummacker/contact-directory/internal/config"
	"gitlab.com/dirk.krummacker/contact-directory/internal/logger"
	"gitlab.com/dirk.krummacker/contact-directory/internal/photo"
	"gitlab.com/dirk.krummacker/contact-directory/internal/service"
	"gitlab.com/dirk.krummacker/contact-directory/internal/store"
	"golang.org/x/sync/errgroup"
)

// Usage example on the command line:
// > PORT=8080 DBHOST=localhost DBUSER=dirk DBPWD=bullo92 GIN_MODE=release GIN_LOGGING=OFF go run main.go
//
// Without DBHOST the contacts are kept in memory.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log, os.Stderr)

	if err := run(cfg, log); err != nil {
		log.Error("service stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	contacts, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	photos := photo.New(cfg.Photos.UploadDir)
	dir := service.NewDirectory(log, contacts, photos)
	router := service.SetupHttpRouter(dir, photos, service.RouterConfig{
		RequestLogging:   cfg.Server.RequestLogging(),
		MaxPhotoBytes:    cfg.Photos.MaxBytes,
		DefaultPageSize:  cfg.Paging.DefaultSize,
		MaxPageSize:      cfg.Paging.MaxSize,
		AllowedOrigins:   cfg.CORS.Origins(),
		AllowCredentials: cfg.CORS.AllowCredentials,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", slog.String("addr", srv.Addr), slog.String("upload_dir", photos.Dir))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info("server closed")
		return nil
	})
	return g.Wait()
}

// openStore connects to MySQL when a database host is configured and falls back to memory otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (service.ContactStore, func(), error) {
	if !cfg.Enabled() {
		log.Warn("DBHOST not set, contacts are kept in memory")
		return store.NewMemory(), func() {}, nil
	}
	sqlDB, err := store.OpenMySQL(cfg)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}
	mysqlStore, err := store.NewMySQL(sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, nil, err
	}
	log.Info("connected to database", slog.String("host", cfg.Host), slog.String("name", cfg.Name))
	return mysqlStore, func() {
		if err := mysqlStore.Close(); err != nil {
			log.Warn("closing store failed", slog.String("error", err.Error()))
		}
		sqlDB.Close()
	}, nil
}
