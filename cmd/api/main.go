package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/config"
	"github.com/crucial707/chaos-scheduler/internal/credentials"
	"github.com/crucial707/chaos-scheduler/internal/db"
	"github.com/crucial707/chaos-scheduler/internal/transport"
)

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func main() {
	cfg := config.Load()
	log := newLogger(cfg)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		database *sql.DB
		st       stores
	)
	switch cfg.Storage {
	case "memory":
		log.Warn("using in-memory storage; data is lost on restart")
		st = memoryStores()
	default:
		var err error
		database, err = db.Connect(ctx, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBUser, cfg.DBPass,
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
		if err != nil {
			return err
		}
		defer database.Close()
		log.Info("connected to database", "host", cfg.DBHost, "name", cfg.DBName)
		if err := db.Migrate(cfg.DatabaseURL()); err != nil {
			return err
		}
		st = postgresStores(database)
	}

	resolvers := credentials.Chain{}
	if cfg.CredentialsFile != "" {
		static, err := credentials.LoadFile(cfg.CredentialsFile)
		if err != nil {
			return err
		}
		log.Info("loaded credentials", "file", cfg.CredentialsFile, "refs", len(static))
		resolvers = append(resolvers, static)
	}
	resolvers = append(resolvers, credentials.Env{})

	dialer := &transport.Dialer{
		Credentials:      resolvers,
		KnownHostsFile:   cfg.SSHKnownHosts,
		DockerAPIVersion: cfg.DockerAPIVersion,
		Logger:           log,
	}
	a := newApp(cfg, database, st, dialer, log)

	// The run log outlives the scheduler so records from draining dispatches are flushed.
	logCtx, stopLog := context.WithCancel(context.Background())
	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		a.runlog.Run(logCtx)
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		a.scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.Port, "tls", cfg.TLSCertFile != "", "storage", cfg.Storage)
		var err error
		if cfg.TLSCertFile != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var result error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		result = err
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	<-schedDone
	stopLog()
	<-logDone
	log.Info("shutdown complete")
	return result
}
