package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// AppendEvent writes one append-only audit record. domainID may be
// empty for events not tied to a domain (scheduler ticks, guardian
// blocks). Event failures are logged, not fatal: auditing must never
// take the pipeline down.
func (s *Store) AppendEvent(ctx context.Context, kind EventKind, domainID string, payload map[string]string) error {
	var domain *string
	if domainID != "" {
		domain = &domainID
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (domain_id, kind, payload)
		VALUES ($1, $2, $3)`,
		domain, string(kind), encoded,
	)
	if err != nil {
		return fmt.Errorf("appending %s event: %w", kind, err)
	}
	return nil
}
