package cli

import (
	"context"
	"fmt"
	"text/template"

	"github.com/parcelworks/fieldsync/internal/models"
)

var conflictsUsage = "Usage: fieldsync conflicts <list|resolve|clear> [conflict-id] [strategy]"

func (c *Cli) runConflicts(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing subcommand. %s", conflictsUsage)
	}

	switch args[0] {
	case "list":
		return c.runConflictsList(ctx)
	case "resolve":
		if len(args) < 2 {
			return fmt.Errorf("missing conflict id. %s", conflictsUsage)
		}
		var strategy models.ResolutionStrategy
		if len(args) > 2 {
			strategy = models.ResolutionStrategy(args[2])
		}
		return c.runConflictsResolve(ctx, args[1], strategy)
	case "clear":
		count, err := c.conflictService.ClearResolved(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear conflicts: %w", err)
		}
		c.io.Printf("✓ %d resolved conflict(s) removed\n", count)
		return nil
	default:
		return fmt.Errorf("unknown subcommand: %s. %s", args[0], conflictsUsage)
	}
}

func (c *Cli) runConflictsList(ctx context.Context) error {
	conflicts, err := c.conflictService.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}

	tmpl, err := template.New("conflicts").Parse(conflictListTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	return tmpl.Execute(c.io, conflicts)
}

func (c *Cli) runConflictsResolve(ctx context.Context, id string, strategy models.ResolutionStrategy) error {
	resolved, err := c.conflictService.Resolve(ctx, id, strategy)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	switch resolved.Status {
	case models.ConflictResolved:
		c.io.Printf("✓ Conflict %s resolved with %s (revision %d)\n", id, resolved.Strategy, resolved.Resolved.Revision)
	case models.ConflictPendingManual:
		c.io.Printf("Conflict %s requires manual resolution\n", id)
		c.io.Printf("Inspect both versions with 'fieldsync conflicts list' and resolve with an explicit strategy\n")
	case models.ConflictFailed:
		c.io.Printf("✗ Resolution of %s failed: %s\n", id, resolved.LastError())
	default:
		c.io.Printf("Conflict %s is %s\n", id, resolved.Status)
	}

	return nil
}
