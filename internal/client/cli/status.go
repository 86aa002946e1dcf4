package cli

import (
	"context"
	"fmt"

	"github.com/parcelworks/fieldsync/internal/models"
)

// runStatus показывает состояние клиента: идентификатор реплики,
// счетчики очереди и конфликтов, отметку последней синхронизации.
func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Client Status ===")
	c.io.Println()

	nodeID, err := c.metadataStorage.EnsureNodeID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get replica id: %w", err)
	}
	c.io.Printf("Replica:   %s\n", nodeID)
	c.io.Printf("Documents: %d\n", c.registry.Size())

	ops, err := c.queueService.ListOperations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list operations: %w", err)
	}

	counts := map[models.OperationStatus]int{}
	for _, op := range ops {
		counts[op.Status]++
	}
	c.io.Printf("Queue:     %d operation(s): %d pending, %d retrying, %d failed, %d completed\n",
		len(ops),
		counts[models.StatusPending],
		counts[models.StatusRetrying],
		counts[models.StatusFailed],
		counts[models.StatusCompleted])

	conflicts, err := c.conflictService.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}

	pendingManual := 0
	for _, conflict := range conflicts {
		if conflict.Status == models.ConflictPendingManual {
			pendingManual++
		}
	}
	c.io.Printf("Conflicts: %d record(s), %d awaiting manual resolution\n", len(conflicts), pendingManual)

	lastSync, err := c.metadataStorage.GetLastSyncTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last sync time: %w", err)
	}
	if lastSync == 0 {
		c.io.Println("Last sync: never")
	} else {
		c.io.Printf("Last sync: lamport time %d\n", lastSync)
	}

	return nil
}
