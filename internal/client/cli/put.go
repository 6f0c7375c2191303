package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/ivmalkov/fieldsync/internal/client/storage"
	"github.com/ivmalkov/fieldsync/internal/models"
)

func (c *Cli) runPut(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: fieldsync put <collection> <id> <payload>")
	}

	collection, entityID := args[0], args[1]

	payload, err := readPayload(args[2])
	if err != nil {
		return err
	}

	// create или update зависит от наличия локальной записи
	kind := models.OpCreate
	_, err = c.boltStorage.Read(ctx, collection, entityID)
	switch {
	case err == nil:
		kind = models.OpUpdate
	case errors.Is(err, storage.ErrEntityNotFound):
	default:
		return fmt.Errorf("failed to read entity: %w", err)
	}

	op, err := c.engine.EnqueueMutation(ctx, kind, collection, entityID, payload)
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	fmt.Printf("✓ %s %s/%s queued for sync (operation %s)\n", kind, collection, entityID, op.ID)
	fmt.Println("The change is visible locally immediately. Run 'fieldsync sync' to push it.")

	return nil
}
