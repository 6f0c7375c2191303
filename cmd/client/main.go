package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ivmalkov/fieldsync/internal/client/api"
	"github.com/ivmalkov/fieldsync/internal/client/cli"
	"github.com/ivmalkov/fieldsync/internal/client/device"
	"github.com/ivmalkov/fieldsync/internal/client/engine"
	"github.com/ivmalkov/fieldsync/internal/client/resolver"
	"github.com/ivmalkov/fieldsync/internal/client/storage/boltdb"
	"github.com/ivmalkov/fieldsync/internal/config"
	"github.com/ivmalkov/fieldsync/internal/models"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Глобальные флаги; непустые значения перекрывают конфиг
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", "", "Path to TOML config file")
	serverURL := flag.String("server", "", "Server URL")
	dbPath := flag.String("db", "", "Path to local database")
	token := flag.String("token", "", "Device bearer token")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage()
		os.Exit(1)
	}

	command := args[0]

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	if *token != "" {
		cfg.Server.Token = *token
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	// Контекст отменяется по Ctrl+C; watch живет на нем до остановки
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Открываем BoltDB storage
	boltStorage, err := boltdb.New(ctx, cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	// Стабильный идентификатор установки
	identity := device.NewIdentity(boltStorage)
	deviceID, err := identity.GetOrCreate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get device identity: %v\n", err)
		os.Exit(1)
	}

	apiClient := api.NewClient(cfg.Server.URL, cfg.RequestTimeout())

	res := resolver.New(logger)
	for name, col := range cfg.Collections {
		switch col.Policy {
		case "server":
			res.SetPolicy(name, resolver.Policy{Resolution: models.ResolutionUseServer})
		case "client":
			res.SetPolicy(name, resolver.Policy{Resolution: models.ResolutionUseClient})
		case "merge":
			res.SetPolicy(name, resolver.Policy{Resolution: models.ResolutionMerge, Merge: resolver.ShallowMerge})
		}
	}

	syncEngine := engine.New(
		engine.Config{
			Token:          cfg.Server.Token,
			BatchLimit:     cfg.Sync.BatchLimit,
			MaxRetries:     cfg.Sync.MaxRetries,
			BackoffBase:    cfg.BackoffBase(),
			BackoffCap:     cfg.BackoffCap(),
			RequestTimeout: cfg.RequestTimeout(),
		},
		apiClient,
		boltStorage,
		boltStorage,
		boltStorage,
		res,
		deviceID,
		logger,
	)

	c := cli.New(cfg, boltStorage, syncEngine, logger)
	c.Run(ctx, command, args[1:])
}

func printVersion() {
	fmt.Printf("FieldSync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
