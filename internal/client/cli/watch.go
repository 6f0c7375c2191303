package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/ivmalkov/fieldsync/internal/client/engine"
	"github.com/ivmalkov/fieldsync/internal/client/netmon"
	"github.com/ivmalkov/fieldsync/internal/models"
)

// runWatch следит за связностью и синхронизируется при восстановлении сети.
// Завершается по отмене контекста (Ctrl+C).
func (c *Cli) runWatch(ctx context.Context) error {
	fmt.Printf("Watching connectivity to %s (probe every %s, debounce %s)\n",
		c.cfg.Server.URL, c.cfg.ProbeInterval(), c.cfg.Debounce())
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	prober := netmon.NewHTTPProber(c.cfg.Server.URL, c.cfg.RequestTimeout())
	monitor := netmon.New(prober, c.cfg.ProbeInterval(), c.cfg.Debounce(), c.logger)

	monitor.OnTransition(func(online bool) {
		if online {
			fmt.Printf("[%s] network restored, syncing\n", time.Now().Format(time.TimeOnly))
		} else {
			fmt.Printf("[%s] network lost, mutations will queue locally\n", time.Now().Format(time.TimeOnly))
		}
	})

	c.engine.OnConflict(func(conflict *models.ConflictRecord) {
		fmt.Printf("[%s] ⚠️  conflict on %s/%s, run 'fieldsync resolve %s ...'\n",
			time.Now().Format(time.TimeOnly), conflict.Collection, conflict.EntityID, conflict.EntityID)
	})

	c.engine.OnDeadLetter(func(dl engine.DeadLetter) {
		fmt.Printf("[%s] ⚠️  operation %s on %s/%s dead-lettered: %s\n",
			time.Now().Format(time.TimeOnly), dl.Op.ID, dl.Op.Collection, dl.Op.EntityID, dl.Reason)
	})

	c.engine.AttachMonitor(monitor)
	monitor.Start(ctx)
	defer monitor.Stop()

	// Первый цикл не ждет перехода связности
	c.engine.TriggerSync()

	<-ctx.Done()

	fmt.Println()
	fmt.Println("Stopping watch.")

	return nil
}
