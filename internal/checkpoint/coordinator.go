// Package checkpoint couples sink success to partition-progress
// acknowledgement and persists offsets in the state store.
package checkpoint

import (
	"context"
	"time"
)

// Func acknowledges progress up to the latest delivered event of a
// partition. Provided by the consumer host.
type Func func(ctx context.Context) error

// Coordinator rate-limits and linearizes checkpoint calls for one
// partition. Access is single-threaded within a partition by the host
// contract, so no locking is needed.
type Coordinator struct {
	checkpoint  Func
	minInterval time.Duration
	last        time.Time

	// Clock is overridable for tests; nil means time.Now.
	Clock func() time.Time
}

// NewCoordinator creates a coordinator with the pipeline's minimum
// checkpoint interval.
func NewCoordinator(checkpoint Func, minInterval time.Duration) *Coordinator {
	return &Coordinator{checkpoint: checkpoint, minInterval: minInterval}
}

func (c *Coordinator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Due reports whether the minimum interval has elapsed since the last
// acknowledged checkpoint.
func (c *Coordinator) Due() bool {
	return c.now().Sub(c.last) >= c.minInterval
}

// Maybe checkpoints when the minimum interval has elapsed. It reports
// whether a checkpoint was issued.
func (c *Coordinator) Maybe(ctx context.Context) (bool, error) {
	if !c.Due() {
		return false, nil
	}
	if err := c.Force(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Force checkpoints unconditionally. Used on clean shutdown and, for the
// CA pipeline, after any flush within a batch.
func (c *Coordinator) Force(ctx context.Context) error {
	if err := c.checkpoint(ctx); err != nil {
		return err
	}
	c.last = c.now()
	return nil
}
