package cli

import (
	"context"
	"errors"
)

// runScheduler держит планировщик очереди в переднем плане: очередь
// разгружается сразу на старте (включая RETRYING операции, пережившие
// перезапуск), дальше задача просыпается на постановку операций и по
// backoff-таймерам. Остановка — сигналом прерывания.
func (c *Cli) runScheduler(ctx context.Context) error {
	c.io.Println("=== Queue Scheduler ===")
	c.io.Println()
	c.io.Println("Draining offline queue; press Ctrl+C to stop")

	if err := c.queueService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	c.io.Println()
	c.io.Println("Scheduler stopped")
	return nil
}
