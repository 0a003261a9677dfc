package util

import (
	"context"
)

// Semaphore bounds concurrency, with Acquire operations taking a context.
type Semaphore interface {
	// Acquire will attempt to acquire a slot on the semaphore.  Returns nil if successful, and the
	// context's error if the context is done first.
	Acquire(ctx context.Context) error
	Release()
}

// NewSemaphore returns a new Semaphore with a capacity of the provided count.  If count is zero, the capacity
// is unlimited.
func NewSemaphore(count int) Semaphore {
	if count == 0 {
		return nullSemaphore{}
	}
	return &chanSemaphore{
		sem: make(chan struct{}, count),
	}
}

// chanSemaphore holds a token in the channel for every acquired slot.
type chanSemaphore struct {
	sem chan struct{}
}

func (c *chanSemaphore) Acquire(ctx context.Context) error {
	// Checked first so a done context never wins a slot, select picks randomly.
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.sem <- struct{}{}:
		return nil
	}
}

func (c *chanSemaphore) Release() {
	<-c.sem
}

type nullSemaphore struct{}

func (nullSemaphore) Acquire(ctx context.Context) error { return ctx.Err() }
func (nullSemaphore) Release()                          {}
