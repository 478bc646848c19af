package persistence

import (
	"context"
	"fmt"
	"time"
)

// lockTTL bounds how long a distributed lock may outlive a crashed holder.
const lockTTL = 30 * time.Second

// lane is the FIFO chain for one session ID. tail is closed when the most
// recently queued operation has settled; refs counts queued operations so the
// lane can be dropped once idle.
type lane struct {
	tail chan struct{}
	refs int
}

// RunExclusive runs op while holding the lock for sessionID. Calls for the same
// ID run one at a time in the order they were submitted; a call whose ctx ends
// while it waits returns ctx.Err() without running op and without breaking the
// order of the calls behind it.
func (c *Coordinator) RunExclusive(ctx context.Context, sessionID string, op func(context.Context) error) error {
	prev, done := c.enqueue(sessionID)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Hand our slot over only once the predecessor settles.
			go func() {
				<-prev
				c.settle(sessionID, done)
			}()
			return ctx.Err()
		}
	}
	defer c.settle(sessionID, done)

	if c.locker != nil {
		unlock, err := c.locker.Lock(ctx, sessionID, lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return op(ctx)
}

func (c *Coordinator) enqueue(sessionID string) (prev, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.lanes[sessionID]
	if !ok {
		l = &lane{}
		c.lanes[sessionID] = l
	}
	prev = l.tail
	done = make(chan struct{})
	l.tail = done
	l.refs++
	return prev, done
}

func (c *Coordinator) settle(sessionID string, done chan struct{}) {
	close(done)

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lanes[sessionID]; ok {
		l.refs--
		if l.refs <= 0 {
			delete(c.lanes, sessionID)
		}
	}
}
