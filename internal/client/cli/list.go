package cli

import (
	"context"
	"fmt"
)

func (c *Cli) runList(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fieldsync list <collection>")
	}

	collection := args[0]

	records, err := c.boltStorage.ListCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to list collection: %w", err)
	}

	fmt.Printf("=== %s ===\n", collection)
	fmt.Println()

	if len(records) == 0 {
		fmt.Println("No documents found.")
		fmt.Println()
		fmt.Println("Use 'fieldsync put' to create the first document.")
		return nil
	}

	fmt.Printf("Found %d document(s):\n", len(records))
	fmt.Println()

	for i, record := range records {
		fmt.Printf("%d. %s (revision %d)\n", i+1, record.ID, record.Revision)
		fmt.Printf("   %s\n", string(record.Payload))
		if _, ok := c.engine.OpenConflict(record.ID); ok {
			fmt.Println("   ⚠️  has an open conflict")
		}
		fmt.Println()
	}

	return nil
}
