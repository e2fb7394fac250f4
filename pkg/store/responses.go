package store

import (
	"context"
	"fmt"
	"time"
)

// InsertResponse appends one raw response. The (domain, provider,
// template, minute-bucket) unique index makes the insert idempotent:
// replaying a call inside the same minute bucket inserts nothing and
// returns false. Responses are never updated or deleted.
func (s *Store) InsertResponse(ctx context.Context, r *Response) (bool, error) {
	capturedAt := r.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO responses (
			domain_id, provider, model, prompt_template_id,
			prompt_text, response_text,
			prompt_tokens, completion_tokens,
			total_cost_usd, latency_ms,
			captured_at, minute_bucket
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (domain_id, provider, prompt_template_id, minute_bucket) DO NOTHING`,
		r.DomainID, r.Provider, r.Model, r.PromptTemplateID,
		r.PromptText, r.ResponseText,
		r.PromptTokens, r.CompletionTokens,
		r.TotalCostUSD, r.LatencyMS,
		capturedAt, capturedAt.Truncate(time.Minute),
	)
	if err != nil {
		return false, fmt.Errorf("inserting response for domain %s provider %s: %w", r.DomainID, r.Provider, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResponseCountSince counts responses captured after since.
func (s *Store) ResponseCountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM responses WHERE captured_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting responses: %w", err)
	}
	return n, nil
}

// DistinctProvidersSince counts providers with at least one response
// after since.
func (s *Store) DistinctProvidersSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(DISTINCT provider) FROM responses WHERE captured_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting distinct providers: %w", err)
	}
	return n, nil
}

// DistinctDomainsSince counts domains with at least one response after
// since.
func (s *Store) DistinctDomainsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(DISTINCT domain_id) FROM responses WHERE captured_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting distinct domains: %w", err)
	}
	return n, nil
}

// MeanResponseLengthSince returns the mean response length in
// characters after since. Zero rows yields zero, not an error.
func (s *Store) MeanResponseLengthSince(ctx context.Context, since time.Time) (float64, error) {
	var mean float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(avg(length(response_text)), 0) FROM responses WHERE captured_at >= $1`, since,
	).Scan(&mean)
	if err != nil {
		return 0, fmt.Errorf("computing mean response length: %w", err)
	}
	return mean, nil
}

// WeeklyResponseCounts returns per-week response counts for the
// trailing weeks, oldest first. Weeks with no rows appear as zero.
func (s *Store) WeeklyResponseCounts(ctx context.Context, weeks int) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		WITH buckets AS (
			SELECT generate_series(0, $1 - 1) AS wk
		)
		SELECT COALESCE(count(r.id), 0)
		FROM buckets b
		LEFT JOIN responses r
		  ON r.captured_at >= now() - ($1 - b.wk) * interval '7 days'
		 AND r.captured_at <  now() - ($1 - b.wk - 1) * interval '7 days'
		GROUP BY b.wk
		ORDER BY b.wk`,
		weeks,
	)
	if err != nil {
		return nil, fmt.Errorf("querying weekly counts: %w", err)
	}
	defer rows.Close()

	var counts []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning weekly count: %w", err)
		}
		counts = append(counts, n)
	}
	return counts, rows.Err()
}

// DailyMeanLengths returns the mean response length per day for the
// trailing days, oldest first. Days without rows yield zero.
func (s *Store) DailyMeanLengths(ctx context.Context, days int) ([]float64, error) {
	rows, err := s.pool.Query(ctx, `
		WITH buckets AS (
			SELECT generate_series(0, $1 - 1) AS day
		)
		SELECT COALESCE(avg(length(r.response_text)), 0)
		FROM buckets b
		LEFT JOIN responses r
		  ON r.captured_at >= now() - ($1 - b.day) * interval '1 day'
		 AND r.captured_at <  now() - ($1 - b.day - 1) * interval '1 day'
		GROUP BY b.day
		ORDER BY b.day`,
		days,
	)
	if err != nil {
		return nil, fmt.Errorf("querying daily mean lengths: %w", err)
	}
	defer rows.Close()

	var means []float64
	for rows.Next() {
		var m float64
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scanning daily mean: %w", err)
		}
		means = append(means, m)
	}
	return means, rows.Err()
}

// ProviderRecentActivity reports, per provider seen in the activity
// window, how many distinct days it produced responses and how many
// rows it produced inside the recent window. The guardian flags
// providers active in the window but silent recently.
func (s *Store) ProviderRecentActivity(ctx context.Context, activityWindow, recentWindow time.Duration) ([]ProviderActivity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider,
		       count(DISTINCT date_trunc('day', captured_at)) AS active_days,
		       count(*) FILTER (WHERE captured_at >= now() - $2::interval) AS recent_rows
		FROM responses
		WHERE captured_at >= now() - $1::interval
		GROUP BY provider
		ORDER BY provider`,
		activityWindow, recentWindow,
	)
	if err != nil {
		return nil, fmt.Errorf("querying provider activity: %w", err)
	}
	defer rows.Close()

	var out []ProviderActivity
	for rows.Next() {
		var a ProviderActivity
		if err := rows.Scan(&a.Provider, &a.ActiveDays, &a.RecentRows); err != nil {
			return nil, fmt.Errorf("scanning provider activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// StaleDomainCount counts domains untouched for longer than age.
func (s *Store) StaleDomainCount(ctx context.Context, age time.Duration) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM domains
		WHERE last_processed_at IS NULL OR last_processed_at < now() - $1::interval`,
		age,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting stale domains: %w", err)
	}
	return n, nil
}

// SuccessfulTuples returns the (provider, template) pairs already
// persisted for a domain since the cycle start. The orchestrator skips
// these when retrying a partially processed domain in the same cycle.
func (s *Store) SuccessfulTuples(ctx context.Context, domainID string, since time.Time) (map[[2]string]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider, prompt_template_id
		FROM responses
		WHERE domain_id = $1 AND captured_at >= $2`,
		domainID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("querying persisted tuples: %w", err)
	}
	defer rows.Close()

	tuples := make(map[[2]string]bool)
	for rows.Next() {
		var provider, template string
		if err := rows.Scan(&provider, &template); err != nil {
			return nil, fmt.Errorf("scanning persisted tuple: %w", err)
		}
		tuples[[2]string{provider, template}] = true
	}
	return tuples, rows.Err()
}
