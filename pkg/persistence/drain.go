package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/blueprint/pkg/ports"
)

// DrainReport summarizes one pass over the sync queue.
type DrainReport struct {
	Applied    int `json:"applied"`
	Superseded int `json:"superseded"`
	Failed     int `json:"failed"`
	Deferred   int `json:"deferred"`
	Dropped    int `json:"dropped"`
	Remaining  int `json:"remaining"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Drain replays queued remote writes in FIFO order. Each entry is removed on
// success and left queued, with a later retry time, on renewed failure. Once an
// entry of a session fails, the session's later entries wait for the next pass
// so its writes never apply out of order. Entries older than a newer write of
// the same session are acknowledged without being written. Entries of sessions
// the remote store refused are dropped: permanent failures are never retried.
func (c *Coordinator) Drain(ctx context.Context) (DrainReport, error) {
	var report DrainReport
	if c.queue == nil || c.remote == nil {
		return report, nil
	}
	if p, ok := c.remote.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return report, fmt.Errorf("remote store unreachable: %w", err)
		}
	}

	entries, err := c.queue.Pending(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to read sync queue: %w", err)
	}

	latestEpoch := make(map[string]int64)
	for _, e := range entries {
		if e.Epoch > latestEpoch[e.SessionID] {
			latestEpoch[e.SessionID] = e.Epoch
		}
	}

	blocked := make(map[string]bool)
	now := c.clock.Now()
	for _, e := range entries {
		if blocked[e.SessionID] {
			report.Deferred++
			continue
		}
		if e.Epoch < latestEpoch[e.SessionID] || c.superseded(e.SessionID, version{epoch: e.Epoch, seq: e.Seq}) {
			c.ack(ctx, e)
			report.Superseded++
			continue
		}
		if c.LocalOnly(e.SessionID) {
			c.ack(ctx, e)
			report.Dropped++
			continue
		}
		if e.NextRetry.After(now) {
			blocked[e.SessionID] = true
			report.Deferred++
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return report, err
		}

		v := version{epoch: e.Epoch, seq: e.Seq}
		err := c.RunExclusive(ctx, e.SessionID, func(ctx context.Context) error {
			return c.saveRemote(ctx, e.SessionID, e.Payload, v)
		})
		if errors.Is(err, errSuperseded) {
			c.ack(ctx, e)
			report.Superseded++
			continue
		}
		c.observeWrite(TargetRemote, err)
		if err != nil {
			blocked[e.SessionID] = true
			report.Failed++
			if Classify(err) == ClassPermanent {
				c.degrade(ctx, e.SessionID, err)
				c.ack(ctx, e)
				continue
			}
			next := now.Add(c.policy.Delay(e.Attempts + 1))
			if rerr := c.queue.Retry(ctx, e.ID, next); rerr != nil {
				c.logger.Warn("Failed to reschedule queued write", "session_id", e.SessionID, "err", rerr)
			}
			c.logger.Debug("Queued write failed", "session_id", e.SessionID, "attempt", e.Attempts+1, "err", err)
			continue
		}

		c.markApplied(e.SessionID, v)
		c.ack(ctx, e)
		report.Applied++
	}

	if n, err := c.queue.Len(ctx); err == nil {
		report.Remaining = n
	}
	if report.Applied > 0 || report.Failed > 0 || report.Dropped > 0 {
		c.logger.Info("Drained sync queue",
			"applied", report.Applied, "failed", report.Failed, "dropped", report.Dropped, "remaining", report.Remaining)
	}
	if c.hooks.OnDrain != nil {
		c.hooks.OnDrain(report)
	}
	return report, nil
}

func (c *Coordinator) ack(ctx context.Context, e ports.SyncEntry) {
	if err := c.queue.Ack(ctx, e.ID); err != nil {
		c.logger.Warn("Failed to acknowledge queued write", "session_id", e.SessionID, "err", err)
	}
}

// Run drains the queue every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if _, err := c.Drain(ctx); err != nil {
				c.logger.Debug("Sync queue drain skipped", "err", err)
			}
		}
	}
}
