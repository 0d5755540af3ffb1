package escrow

import (
	"context"
	"time"
)

// Confirmer waits for an external settlement step, such as a chain
// confirmation. It must return ctx.Err() promptly once ctx is cancelled.
type Confirmer interface {
	Confirm(ctx context.Context, step Stage) error
}

// SimulatedConfirmer waits a fixed delay per step.
type SimulatedConfirmer struct {
	Delay time.Duration
}

// Confirm implements Confirmer.
func (c *SimulatedConfirmer) Confirm(ctx context.Context, _ Stage) error {
	if c.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
