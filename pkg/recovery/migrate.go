package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/persistence"
	"github.com/aretw0/blueprint/pkg/ports"
	"golang.org/x/sync/errgroup"
)

// Report summarizes a bulk migration.
type Report struct {
	Scanned  int `json:"scanned"`
	Valid    int `json:"valid"`
	Migrated int `json:"migrated"`
	Removed  int `json:"removed"`
	// Reasons lists the diagnostics of every removed record by session id.
	Reasons map[string][]string `json:"reasons,omitempty"`
	// Repairs lists the warnings of every migrated record by session id.
	Repairs map[string][]string `json:"repairs,omitempty"`
}

// RemovedIDs returns the ids of purged records in lexical order.
func (r Report) RemovedIDs() []string {
	ids := make([]string, 0, len(r.Reasons))
	for id := range r.Reasons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Migrate validates every record in store. Repaired records are rewritten,
// records beyond repair are deleted. Store errors abort the run.
func (v *Validator) Migrate(ctx context.Context, store ports.RecordStore) (Report, error) {
	report := Report{
		Reasons: make(map[string][]string),
		Repairs: make(map[string][]string),
	}

	ids, err := store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list sessions: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			outcome, detail, err := v.migrateOne(gctx, store, id)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			report.Scanned++
			switch outcome {
			case outcomeValid:
				report.Valid++
			case outcomeMigrated:
				report.Migrated++
				report.Repairs[id] = detail
			case outcomeRemoved:
				report.Removed++
				report.Reasons[id] = detail
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if report.Migrated > 0 || report.Removed > 0 {
		v.logger.Info("Migrated stored sessions",
			"scanned", report.Scanned, "migrated", report.Migrated, "removed", report.Removed)
	}
	return report, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeValid
	outcomeMigrated
	outcomeRemoved
)

func (v *Validator) migrateOne(ctx context.Context, store ports.RecordStore, id string) (outcome, []string, error) {
	raw, err := store.Load(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return outcomeSkipped, nil, nil
	}
	if err != nil {
		return outcomeSkipped, nil, fmt.Errorf("failed to load session '%s': %w", id, err)
	}

	res, err := v.Validate(raw)
	var verr *ValidationError
	if errors.As(err, &verr) {
		v.logger.Warn("Purging unrecoverable session", "session_id", id, "err", err)
		if err := store.Delete(ctx, id); err != nil {
			return outcomeSkipped, nil, fmt.Errorf("failed to delete session '%s': %w", id, err)
		}
		return outcomeRemoved, verr.Diagnostics, nil
	}
	if err != nil {
		return outcomeSkipped, nil, err
	}

	if res.Session.ID != id {
		diag := []string{fmt.Sprintf("id %q does not match storage key", res.Session.ID)}
		v.logger.Warn("Purging session stored under a foreign key", "session_id", id, "record_id", res.Session.ID)
		if err := store.Delete(ctx, id); err != nil {
			return outcomeSkipped, nil, fmt.Errorf("failed to delete session '%s': %w", id, err)
		}
		return outcomeRemoved, diag, nil
	}

	if !res.Repaired() {
		return outcomeValid, nil, nil
	}
	record, err := persistence.Encode(res.Session)
	if err != nil {
		return outcomeSkipped, nil, err
	}
	if err := store.Save(ctx, id, record); err != nil {
		return outcomeSkipped, nil, fmt.Errorf("failed to rewrite session '%s': %w", id, err)
	}
	return outcomeMigrated, res.Warnings, nil
}
