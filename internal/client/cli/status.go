package cli

import (
	"context"
	"fmt"
	"time"
)

func (c *Cli) runStatus(ctx context.Context) error {
	fmt.Println("=== Sync Status ===")
	fmt.Println()

	status, err := c.engine.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get engine status: %w", err)
	}

	if status.IsOnline {
		fmt.Println("Network: online")
	} else {
		fmt.Println("Network: offline (mutations are queued locally)")
	}
	fmt.Printf("State:   %s\n", status.State)

	if !status.StorageHealthy {
		fmt.Println("⚠️  Local storage is unhealthy, sync is suspended")
	}

	if status.LastSync > 0 {
		fmt.Printf("Last sync watermark: %d\n", status.LastSync)
	} else {
		fmt.Println("Last sync watermark: never synchronized")
	}

	fmt.Println()
	if status.PendingCount > 0 {
		fmt.Printf("⚠️  Pending sync: %d operation(s) waiting to be pushed\n", status.PendingCount)
		fmt.Println("Run 'fieldsync sync' to synchronize with server.")
	} else {
		fmt.Println("✓ All local changes pushed to server")
	}

	if len(status.OpenConflicts) > 0 {
		fmt.Println()
		fmt.Printf("⚠️  Open conflicts: %d\n", len(status.OpenConflicts))
		for _, conflict := range status.OpenConflicts {
			fmt.Printf("   %s/%s (server revision %d)\n",
				conflict.Collection, conflict.EntityID, conflict.ServerVersion.Revision)
		}
		fmt.Println("Run 'fieldsync resolve <id> <use_server|use_client|merge>' to resolve.")
	}

	if len(status.DeadLetters) > 0 {
		fmt.Println()
		fmt.Printf("⚠️  Dead letters: %d operation(s) gave up after retries\n", len(status.DeadLetters))
		for _, dl := range status.DeadLetters {
			fmt.Printf("   %s %s/%s at %s: %s\n",
				dl.Op.Kind, dl.Op.Collection, dl.Op.EntityID,
				dl.At.Format(time.RFC3339), dl.Reason)
		}
	}

	return nil
}
