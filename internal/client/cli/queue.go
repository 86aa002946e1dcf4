package cli

import (
	"context"
	"fmt"
	"text/template"
)

var queueUsage = "Usage: fieldsync queue <list|retry|retry-all|clear|cancel> [operation-id]"

func (c *Cli) runQueue(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing subcommand. %s", queueUsage)
	}

	switch args[0] {
	case "list":
		return c.runQueueList(ctx)
	case "retry":
		if len(args) < 2 {
			return fmt.Errorf("missing operation id. %s", queueUsage)
		}
		return c.runQueueRetry(ctx, args[1])
	case "retry-all":
		count, err := c.queueService.RetryAllFailed(ctx)
		if err != nil {
			return fmt.Errorf("failed to retry operations: %w", err)
		}
		c.io.Printf("✓ %d failed operation(s) re-queued\n", count)
		return nil
	case "clear":
		count, err := c.queueService.ClearCompleted(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}
		c.io.Printf("✓ %d completed operation(s) removed\n", count)
		return nil
	case "cancel":
		if len(args) < 2 {
			return fmt.Errorf("missing operation id. %s", queueUsage)
		}
		return c.runQueueCancel(ctx, args[1])
	default:
		return fmt.Errorf("unknown subcommand: %s. %s", args[0], queueUsage)
	}
}

func (c *Cli) runQueueList(ctx context.Context) error {
	ops, err := c.queueService.ListOperations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list operations: %w", err)
	}

	tmpl, err := template.New("queue").Parse(queueListTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	return tmpl.Execute(c.io, ops)
}

func (c *Cli) runQueueRetry(ctx context.Context, id string) error {
	if err := c.queueService.RetryOperation(ctx, id); err != nil {
		return fmt.Errorf("failed to retry operation: %w", err)
	}

	c.io.Printf("✓ Operation %s re-queued\n", id)
	return nil
}

func (c *Cli) runQueueCancel(ctx context.Context, id string) error {
	if err := c.queueService.Cancel(ctx, id); err != nil {
		return fmt.Errorf("failed to cancel operation: %w", err)
	}

	c.io.Printf("✓ Operation %s cancelled\n", id)
	return nil
}
