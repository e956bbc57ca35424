package state

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// FetchContext snapshots the user's recent state for the decision
// engine: last check-ins in the routed domain, recent journal titles,
// and every active memory summary in the domain. The three queries run
// concurrently; reads never block writers.
func (s *Store) FetchContext(ctx context.Context, userID, domain string) (*ContextSnapshot, error) {
	if !s.Ready() || s.db == nil {
		return nil, ErrNotReady
	}

	snap := &ContextSnapshot{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		checkins, err := s.recentCheckins(gctx, userID, domain, s.checkinLimit())
		if err != nil {
			return fmt.Errorf("recent checkins: %w", err)
		}
		snap.RecentCheckins = checkins
		return nil
	})
	g.Go(func() error {
		titles, err := s.recentJournalTitles(gctx, userID, s.journalLimit())
		if err != nil {
			return fmt.Errorf("recent journal titles: %w", err)
		}
		snap.RecentJournalTitles = titles
		return nil
	})
	g.Go(func() error {
		summaries, err := s.activeMemorySummaries(gctx, userID, domain)
		if err != nil {
			return fmt.Errorf("active memories: %w", err)
		}
		snap.ActiveMemorySummaries = summaries
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) checkinLimit() int {
	if n := s.cfg.Context.RecentCheckins; n > 0 {
		return n
	}
	return 5
}

func (s *Store) journalLimit() int {
	if n := s.cfg.Context.RecentJournalTitles; n > 0 {
		return n
	}
	return 5
}

func (s *Store) recentCheckins(ctx context.Context, userID, domain string, limit int) ([]CheckinSummary, error) {
	query := s.d.Rebind(`SELECT domain, track_type, title, outcome, created_at
FROM checkins WHERE user_id = $1 AND domain = $2
ORDER BY created_at DESC LIMIT $3`)
	rows, err := s.db.QueryContext(ctx, query, userID, domain, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckinSummary
	for rows.Next() {
		var c CheckinSummary
		if err := rows.Scan(&c.Domain, &c.TrackType, &c.Title, &c.Outcome, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) recentJournalTitles(ctx context.Context, userID string, limit int) ([]string, error) {
	query := s.d.Rebind(`SELECT title FROM journal_entries
WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		out = append(out, title)
	}
	return out, rows.Err()
}

func (s *Store) activeMemorySummaries(ctx context.Context, userID, domain string) ([]string, error) {
	query := s.d.Rebind(`SELECT summary FROM memories
WHERE user_id = $1 AND domain = $2 AND NOT tombstoned
ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, userID, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}
