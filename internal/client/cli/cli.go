package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ivmalkov/fieldsync/internal/client/engine"
	"github.com/ivmalkov/fieldsync/internal/client/storage/boltdb"
	"github.com/ivmalkov/fieldsync/internal/config"
)

// Cli связывает команды клиента с движком синхронизации и локальным хранилищем
type Cli struct {
	cfg         *config.Config
	boltStorage *boltdb.Storage
	engine      *engine.Engine
	logger      *slog.Logger
}

func New(cfg *config.Config, boltStorage *boltdb.Storage, syncEngine *engine.Engine, logger *slog.Logger) *Cli {
	return &Cli{
		cfg:         cfg,
		boltStorage: boltStorage,
		engine:      syncEngine,
		logger:      logger,
	}
}

func PrintUsage() {
	fmt.Println("FieldSync Client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fieldsync [OPTIONS] COMMAND")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version          Show version information")
	fmt.Println("  --config PATH      Path to TOML config file")
	fmt.Println("  --server URL       Server URL (default: http://localhost:8080)")
	fmt.Println("  --db PATH          Path to local database (default: fieldsync-client.db)")
	fmt.Println("  --token TOKEN      Device bearer token")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status                                      Show sync status")
	fmt.Println("  sync                                        Run one push/pull cycle")
	fmt.Println("  watch                                       Monitor connectivity and sync continuously")
	fmt.Println("  put <collection> <id> <payload>             Create or update a document")
	fmt.Println("  get <collection> <id>                       Show a document")
	fmt.Println("  list <collection>                           List documents in a collection")
	fmt.Println("  delete <collection> <id>                    Delete a document")
	fmt.Println("  resolve <id> <use_server|use_client|merge> [payload]")
	fmt.Println("                                              Resolve an open conflict")
	fmt.Println("  export <file>                               Export local state to a snapshot file")
	fmt.Println("  import <file>                               Import local state from a snapshot file")
	fmt.Println()
	fmt.Println("Payload is inline JSON, @file, or - for stdin.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  fieldsync put projects p-17 '{\"name\":\"Riverside Tower\",\"budget\":120000}'")
	fmt.Println("  fieldsync put tasks t-3 @task.json")
	fmt.Println("  fieldsync sync")
	fmt.Println("  fieldsync resolve p-17 merge '{\"name\":\"Riverside Tower\",\"budget\":150000}'")
	fmt.Println("  fieldsync --server https://sync.example.com watch")
}

// readPayload принимает JSON inline, из файла через @path или из stdin через -
func readPayload(raw string) (json.RawMessage, error) {
	var data []byte

	switch {
	case raw == "-":
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		data = content
	case strings.HasPrefix(raw, "@"):
		content, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		data = content
	default:
		data = []byte(raw)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}

	return json.RawMessage(data), nil
}
