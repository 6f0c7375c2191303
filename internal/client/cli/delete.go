package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/ivmalkov/fieldsync/internal/client/storage"
	"github.com/ivmalkov/fieldsync/internal/models"
)

func (c *Cli) runDelete(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: fieldsync delete <collection> <id>")
	}

	collection, entityID := args[0], args[1]

	op, err := c.engine.EnqueueMutation(ctx, models.OpDelete, collection, entityID, nil)
	if err != nil {
		if errors.Is(err, storage.ErrEntityNotFound) {
			return fmt.Errorf("entity %s/%s not found", collection, entityID)
		}
		return fmt.Errorf("failed to enqueue delete: %w", err)
	}

	fmt.Printf("✓ delete %s/%s queued for sync (operation %s)\n", collection, entityID, op.ID)

	return nil
}
