package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ivmalkov/fieldsync/internal/client/storage"
)

func (c *Cli) runGet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: fieldsync get <collection> <id>")
	}

	collection, entityID := args[0], args[1]

	record, err := c.boltStorage.Read(ctx, collection, entityID)
	if err != nil {
		if errors.Is(err, storage.ErrEntityNotFound) {
			return fmt.Errorf("entity %s/%s not found", collection, entityID)
		}
		return fmt.Errorf("failed to read entity: %w", err)
	}

	fmt.Printf("Collection: %s\n", record.Collection)
	fmt.Printf("ID:         %s\n", record.ID)
	fmt.Printf("Revision:   %d\n", record.Revision)
	fmt.Printf("Updated:    %s\n", record.UpdatedAt.Format(time.RFC3339))
	if record.Deleted {
		fmt.Println("Deleted:    yes (tombstone, awaiting sync)")
	}
	fmt.Printf("Payload:    %s\n", string(record.Payload))

	if conflict, ok := c.engine.OpenConflict(entityID); ok {
		fmt.Println()
		fmt.Printf("⚠️  Open conflict with server revision %d\n", conflict.ServerVersion.Revision)
		fmt.Printf("   Server payload: %s\n", string(conflict.ServerVersion.Payload))
		fmt.Println("Run 'fieldsync resolve' to resolve it.")
	}

	return nil
}
