package scheduler

import (
	"fmt"

	"mindshare-hq/callisto/pkg/catalog"
	"mindshare-hq/callisto/pkg/config"
)

// Tier names. Each tier trades coverage against spend: cheap runs
// hourly on economy providers, full runs weekly across everything.
const (
	TierCheap     = "cheap"
	TierMedium    = "medium"
	TierExpensive = "expensive"
	TierFull      = "full"
)

// TierPolicy selects which domains a tier refreshes and what it may
// spend doing so.
type TierPolicy struct {
	Name string

	// Predicate is a trusted SQL fragment over alias d, evaluated by
	// the store when marking domains pending. It is part of the policy
	// table, never user input.
	Predicate string

	// Limit caps domains marked pending per run; 0 is unlimited.
	Limit int

	// BudgetUSD is the spend ceiling for one run; 0 is unlimited.
	BudgetUSD float64

	// ProviderTiers are the catalog cost classes the tier may call.
	ProviderTiers []catalog.Tier

	// GuardianGated runs the pre-flight gate before starting. Only the
	// costly tiers are gated; cheap and medium keep running so the
	// health signals the gate reads can recover.
	GuardianGated bool
}

// policies is the tier policy table.
//
// cheap touches short hostnames and anything stale for a day; medium
// sweeps AI-adjacent hostnames weekly; expensive backfills domains
// with thin response history on the premium models; full refreshes
// every non-parked domain.
var policies = map[string]TierPolicy{
	TierCheap: {
		Name: TierCheap,
		Predicate: `length(d.hostname) <= 12
			OR d.last_processed_at IS NULL
			OR d.last_processed_at < now() - interval '1 day'`,
		Limit:         100,
		BudgetUSD:     10,
		ProviderTiers: catalog.TiersFor(TierCheap),
	},
	TierMedium: {
		Name: TierMedium,
		Predicate: `d.hostname ~ '(^|\.)(ai|ml|data|cloud|dev|tech)'
			OR d.last_processed_at IS NULL
			OR d.last_processed_at < now() - interval '7 days'`,
		Limit:         500,
		BudgetUSD:     50,
		ProviderTiers: catalog.TiersFor(TierMedium),
	},
	TierExpensive: {
		Name: TierExpensive,
		Predicate: `(SELECT count(*) FROM responses r
			WHERE r.domain_id = d.id) < 50`,
		Limit:         200,
		BudgetUSD:     250,
		ProviderTiers: catalog.TiersFor(TierExpensive),
		GuardianGated: true,
	},
	TierFull: {
		// Parked domains stay parked; a full run is a refresh, not an
		// operator override.
		Name:          TierFull,
		Predicate:     `d.status <> 'error'`,
		Limit:         0,
		BudgetUSD:     1000,
		ProviderTiers: catalog.TiersFor(TierFull),
		GuardianGated: true,
	},
}

// PolicyFor returns the policy for a tier name.
func PolicyFor(tier string) (TierPolicy, error) {
	p, ok := policies[tier]
	if !ok {
		return TierPolicy{}, fmt.Errorf("unknown tier %q", tier)
	}
	return p, nil
}

// TierNames returns the tiers in cadence order, cheapest first.
func TierNames() []string {
	return []string{TierCheap, TierMedium, TierExpensive, TierFull}
}

// cronFor returns the configured cron expression for a tier; empty
// disables the cadence.
func cronFor(cfg config.SchedulerConfig, tier string) string {
	switch tier {
	case TierCheap:
		return cfg.CronCheap
	case TierMedium:
		return cfg.CronMedium
	case TierExpensive:
		return cfg.CronExpensive
	case TierFull:
		return cfg.CronFull
	default:
		return ""
	}
}
