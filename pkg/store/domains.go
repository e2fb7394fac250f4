package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrLeaseLost is returned when a status update finds the row no longer
// leased to the caller. The caller must treat its work as abandoned.
var ErrLeaseLost = errors.New("domain lease no longer held")

// ClaimDomains atomically claims up to batch pending domains for owner.
// The SELECT takes row locks with SKIP LOCKED so concurrent claimers,
// in this process or another, never receive the same row. Oldest work
// first: rows never processed sort ahead of everything else.
func (s *Store) ClaimDomains(ctx context.Context, ownerID string, batch int, source string, leaseTTL time.Duration) ([]ClaimedDomain, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, hostname
		FROM domains
		WHERE status = 'pending' AND source = $1
		ORDER BY last_processed_at ASC NULLS FIRST
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		source, batch,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting pending domains: %w", err)
	}
	claimed, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ClaimedDomain])
	if err != nil {
		return nil, fmt.Errorf("collecting pending domains: %w", err)
	}
	if len(claimed) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, len(claimed))
	for i, d := range claimed {
		ids[i] = d.ID
	}

	_, err = tx.Exec(ctx, `
		UPDATE domains
		SET status = 'processing',
		    lease_owner = $1,
		    lease_expires_at = now() + $2,
		    process_count = process_count + 1,
		    updated_at = now()
		WHERE id = ANY($3)`,
		ownerID, leaseTTL, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("leasing claimed domains: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return claimed, nil
}

// CompleteDomain commits a finished tensor. partial marks a cycle whose
// only deficits were open-circuit providers. The update is optimistic:
// it applies only while the caller still owns the lease.
func (s *Store) CompleteDomain(ctx context.Context, domainID, ownerID string, partial bool) error {
	status := StatusCompleted
	if partial {
		status = StatusCompletedPartial
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE domains
		SET status = $1,
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    consecutive_errors = 0,
		    last_processed_at = now(),
		    updated_at = now()
		WHERE id = $2 AND status = 'processing' AND lease_owner = $3`,
		string(status), domainID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("completing domain %s: %w", domainID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

// RequeueDomain returns an incomplete domain to the pending pool with
// its error counters advanced. A domain requeued maxConsecutiveErrors
// times in a row is parked as error instead; parked reports which
// branch was taken.
func (s *Store) RequeueDomain(ctx context.Context, domainID, ownerID string) (parked bool, err error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE domains
		SET status = CASE WHEN consecutive_errors + 1 >= $1 THEN 'error' ELSE 'pending' END,
		    error_count = error_count + 1,
		    consecutive_errors = consecutive_errors + 1,
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    last_processed_at = now(),
		    updated_at = now()
		WHERE id = $2 AND status = 'processing' AND lease_owner = $3
		RETURNING status`,
		maxConsecutiveErrors, domainID, ownerID,
	)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrLeaseLost
		}
		return false, fmt.Errorf("requeueing domain %s: %w", domainID, err)
	}
	return status == string(StatusError), nil
}

// ReleaseDomain hands a leased domain back to pending without touching
// its counters. Used on cancellation and on the per-domain wall cap.
func (s *Store) ReleaseDomain(ctx context.Context, domainID, ownerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE domains
		SET status = 'pending',
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing' AND lease_owner = $2`,
		domainID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("releasing domain %s: %w", domainID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

// SweepExpiredLeases resets rows whose lease expired back to pending
// and returns how many were reclaimed. Each reclaim is logged as a
// release event by the caller.
func (s *Store) SweepExpiredLeases(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE domains
		SET status = 'pending',
		    lease_owner = NULL,
		    lease_expires_at = NULL,
		    updated_at = now()
		WHERE status = 'processing' AND lease_expires_at < now()
		RETURNING id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sweeping expired leases: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting swept ids: %w", err)
	}
	return ids, nil
}

// MarkPendingWhere moves matching domains to pending ahead of a run.
// predicate is one of the scheduler's tier selection predicates (a
// trusted SQL fragment over alias d), never user input. limit <= 0
// means unlimited.
func (s *Store) MarkPendingWhere(ctx context.Context, source, predicate string, limit int) (int, error) {
	query := fmt.Sprintf(`
		UPDATE domains
		SET status = 'pending', updated_at = now()
		WHERE id IN (
			SELECT d.id FROM domains d
			WHERE d.source = $1
			  AND d.status NOT IN ('processing', 'pending')
			  AND (%s)
			ORDER BY d.last_processed_at ASC NULLS FIRST
			%s
		)`,
		predicate, limitClause(limit),
	)
	tag, err := s.pool.Exec(ctx, query, source)
	if err != nil {
		return 0, fmt.Errorf("marking domains pending: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf("LIMIT %d", limit)
}

// CountByStatus returns the number of domains per status for a source.
func (s *Store) CountByStatus(ctx context.Context, source string) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM domains WHERE source = $1 GROUP BY status`,
		source,
	)
	if err != nil {
		return nil, fmt.Errorf("counting domains by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// InsertDomain seeds one hostname. Existing hostnames are left
// untouched; seeding is idempotent.
func (s *Store) InsertDomain(ctx context.Context, hostname, source string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO domains (hostname, source)
		VALUES (lower($1), $2)
		ON CONFLICT (hostname) DO NOTHING`,
		hostname, source,
	)
	if err != nil {
		return fmt.Errorf("inserting domain %q: %w", hostname, err)
	}
	return nil
}
