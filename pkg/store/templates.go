package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// substitutionSite is the single placeholder every template body must
// contain exactly once.
const substitutionSite = "{domain}"

// ActiveTemplates returns the active prompt templates in insertion
// order. Bodies are validated on read so a bad seed row is caught
// before any call is issued.
func (s *Store) ActiveTemplates(ctx context.Context) ([]PromptTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, body, category, created_at
		FROM prompt_templates
		WHERE active
		ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying active templates: %w", err)
	}
	templates, err := pgx.CollectRows(rows, pgx.RowToStructByPos[PromptTemplate])
	if err != nil {
		return nil, fmt.Errorf("collecting active templates: %w", err)
	}
	for _, t := range templates {
		if err := ValidateTemplateBody(t.Body); err != nil {
			return nil, fmt.Errorf("template %q: %w", t.ID, err)
		}
	}
	return templates, nil
}

// ValidateTemplateBody checks that a body carries exactly one
// substitution site.
func ValidateTemplateBody(body string) error {
	switch strings.Count(body, substitutionSite) {
	case 0:
		return fmt.Errorf("body has no %s substitution site", substitutionSite)
	case 1:
		return nil
	default:
		return fmt.Errorf("body has more than one %s substitution site", substitutionSite)
	}
}

// Interpolate substitutes the hostname into a template body.
func Interpolate(t PromptTemplate, hostname string) string {
	return strings.Replace(t.Body, substitutionSite, hostname, 1)
}
