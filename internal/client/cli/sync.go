package cli

import (
	"context"
	"fmt"

	"github.com/parcelworks/fieldsync/internal/models"
	"github.com/parcelworks/fieldsync/internal/validation"
)

var syncUsage = "Usage: fieldsync sync <parcel-id>"

// runSync ставит полный обмен состоянием участка в очередь и сразу
// запускает разгрузку. В офлайне операция останется в очереди и уйдет
// при следующем успешном проходе планировщика.
func (c *Cli) runSync(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing parcel id. %s", syncUsage)
	}

	parcelID := args[0]
	if err := validation.ValidateParcelID(parcelID); err != nil {
		return err
	}

	c.io.Println("=== Synchronization ===")

	op, err := c.queueService.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: parcelID})
	if err != nil {
		return fmt.Errorf("failed to enqueue sync: %w", err)
	}

	result, err := c.queueService.ProcessQueue(ctx)
	if err != nil {
		return fmt.Errorf("queue drain failed: %w", err)
	}

	c.io.Println()
	c.io.Printf("Dispatched: %d\n", result.Dispatched)
	c.io.Printf("Completed:  %d\n", result.Completed)
	c.io.Printf("Retrying:   %d\n", result.Retrying)
	c.io.Printf("Failed:     %d\n", result.Failed)

	if result.Failed > 0 || result.Retrying > 0 {
		c.io.Println()
		c.io.Printf("Some operations did not complete; check 'fieldsync queue list' (sync operation %s)\n", op.ID)
		return nil
	}

	c.io.Println()
	c.io.Println("✓ Synchronization completed successfully!")
	return nil
}
