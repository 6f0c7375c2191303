package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ivmalkov/fieldsync/internal/client/engine"
)

func (c *Cli) runSync(ctx context.Context) error {
	fmt.Println("Synchronizing with server...")

	report, err := c.engine.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, engine.ErrOffline) {
			return fmt.Errorf("server is unreachable, mutations stay queued locally")
		}
		return fmt.Errorf("sync cycle failed: %w", err)
	}

	if report.Coalesced {
		fmt.Println("Sync already in progress, another run was scheduled.")
		return nil
	}

	fmt.Println()
	fmt.Printf("✓ Sync completed in %s\n", report.Duration.Round(time.Millisecond))
	fmt.Printf("  Pushed:    %d operation(s), %d succeeded\n", report.Pushed, report.Succeeded)
	fmt.Printf("  Pulled:    %d change(s), %d merged\n", report.Pulled, report.Merged)
	fmt.Printf("  Watermark: %d\n", report.Watermark)

	if report.ConflictsResolved > 0 {
		fmt.Printf("  Conflicts resolved automatically: %d\n", report.ConflictsResolved)
	}
	if report.ConflictsOpen > 0 {
		fmt.Printf("⚠️  Conflicts requiring manual resolution: %d\n", report.ConflictsOpen)
		fmt.Println("Run 'fieldsync status' to inspect them.")
	}
	if report.TransientFailures > 0 {
		fmt.Printf("⚠️  Transient failures: %d operation(s) will be retried\n", report.TransientFailures)
	}
	if report.DeadLettered > 0 {
		fmt.Printf("⚠️  Dead-lettered: %d operation(s) gave up after retries\n", report.DeadLettered)
	}
	if report.Deferred > 0 {
		fmt.Printf("  Deferred merges: %d change(s) held behind local state\n", report.Deferred)
	}

	return nil
}
