package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ivmalkov/fieldsync/internal/models"
)

func (c *Cli) runExport(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fieldsync export <file>")
	}

	snap, err := c.boltStorage.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to export snapshot: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.WriteFile(args[0], data, 0600); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	total := 0
	for _, collection := range snap.Collections {
		total += len(collection)
	}
	fmt.Printf("✓ Exported %d document(s) across %d collection(s) to %s\n",
		total, len(snap.Collections), args[0])

	return nil
}

func (c *Cli) runImport(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fieldsync import <file>")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap models.SyncSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot file: %w", err)
	}

	if err := c.boltStorage.Restore(ctx, &snap); err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}

	total := 0
	for _, collection := range snap.Collections {
		total += len(collection)
	}
	fmt.Printf("✓ Imported %d document(s) across %d collection(s), last sync watermark %d\n",
		total, len(snap.Collections), snap.LastSync)

	return nil
}
