package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ivmalkov/fieldsync/internal/client/engine"
	"github.com/ivmalkov/fieldsync/internal/models"
)

func (c *Cli) runResolve(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: fieldsync resolve <id> <use_server|use_client|merge> [payload]")
	}

	entityID := args[0]
	resolution := models.Resolution(args[1])
	if !resolution.Valid() {
		return fmt.Errorf("unknown resolution %q, use: use_server, use_client, or merge", args[1])
	}

	// Готовый результат слияния можно передать явно
	var payload json.RawMessage
	if len(args) > 2 {
		var err error
		payload, err = readPayload(args[2])
		if err != nil {
			return err
		}
	}

	conflict, ok := c.engine.OpenConflict(entityID)
	if !ok {
		return fmt.Errorf("no open conflict for entity %s", entityID)
	}

	fmt.Printf("Resolving conflict on %s/%s...\n", conflict.Collection, entityID)
	fmt.Printf("  Client version: %s\n", string(conflict.ClientVersion.Payload))
	fmt.Printf("  Server version: %s (revision %d)\n",
		string(conflict.ServerVersion.Payload), conflict.ServerVersion.Revision)

	if err := c.engine.ResolveConflict(ctx, entityID, resolution, payload); err != nil {
		if errors.Is(err, engine.ErrNoOpenConflict) {
			return fmt.Errorf("no open conflict for entity %s", entityID)
		}
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	fmt.Printf("✓ Conflict resolved with %s\n", resolution)

	return nil
}
