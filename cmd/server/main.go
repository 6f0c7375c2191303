package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ivmalkov/fieldsync/internal/server/router"
	"github.com/ivmalkov/fieldsync/internal/server/storage/sqlite"
	"github.com/ivmalkov/fieldsync/internal/server/token"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "fieldsync-server.db", "Path to SQLite database")
	secret := flag.String("secret", "", "HMAC secret for device tokens (required)")
	issuer := flag.String("issuer", "fieldsync", "Token issuer")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "Device token lifetime")
	issueToken := flag.String("issue-token", "", "Print a device token for the given device id and exit")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "Error: -secret is required")
		os.Exit(1)
	}

	tokenConfig := token.Config{
		Secret: *secret,
		Issuer: *issuer,
		TTL:    *tokenTTL,
	}

	// Режим выпуска токена: напечатать и выйти, сервер не поднимается
	if *issueToken != "" {
		signed, err := token.Generate(tokenConfig, *issueToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(signed)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, *dbPath)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router.New(logger, store, tokenConfig),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("sync server listening", "addr", *addr, "db", *dbPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func printVersion() {
	fmt.Printf("FieldSync Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
