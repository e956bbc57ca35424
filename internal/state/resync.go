package state

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// ResyncProjection rebuilds every memory domain file from the database
// in one pass. Used to repair drift between the store and the disk
// mirror (manual edits, crashed writes, restored backups).
func (p *Pipeline) ResyncProjection(ctx context.Context) (int, error) {
	if !p.projector.Enabled() {
		return 0, nil
	}
	userDomains, err := p.store.MemoryUserDomains(ctx)
	if err != nil {
		return 0, fmt.Errorf("list memory domains: %w", err)
	}

	rebuilt := 0
	for user, domains := range userDomains {
		for _, domain := range domains {
			records, err := p.store.DomainMemories(ctx, user, domain)
			if err != nil {
				return rebuilt, fmt.Errorf("load memories for %s/%s: %w", user, domain, err)
			}
			p.projector.ProjectMemoryDomain(user, domain, records)
			rebuilt++
		}
	}
	return rebuilt, nil
}

// RunResyncLoop runs ResyncProjection on the configured cron schedule
// until ctx is done. Returns nil immediately when no schedule is set.
func (p *Pipeline) RunResyncLoop(ctx context.Context) error {
	schedule := p.cfg.Projection.ResyncSchedule
	if schedule == "" || !p.projector.Enabled() {
		return nil
	}
	if !gronx.New().IsValid(schedule) {
		return fmt.Errorf("invalid resync schedule %q", schedule)
	}
	p.log.Info("projection resync scheduled", "schedule", schedule)

	for {
		next, err := gronx.NextTickAfter(schedule, time.Now(), false)
		if err != nil {
			return fmt.Errorf("compute next resync tick: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}

		count, err := p.ResyncProjection(ctx)
		if err != nil {
			p.log.Warn("projection resync failed", "error", err)
			continue
		}
		p.log.Info("projection resync complete", "files", count)
	}
}
