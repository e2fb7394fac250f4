// Callisto crawls LLM providers for brand-perception responses at
// fleet scale.
//
// It repeatedly asks every configured provider a fixed set of
// brand-memory questions about each tracked domain, persists the raw
// answers append-only, and schedules the work in cost tiers so the
// cheap models run hourly and the expensive ones weekly.
//
// Usage:
//
//	# Apply database migrations
//	callisto migrate
//
//	# Start the daemon: cron tiers, lease sweeper, control plane
//	callisto run
//
//	# One-shot crawl of the cheap tier
//	callisto crawl --tier cheap --limit 50
//
//	# Evaluate the guardian health gate without crawling
//	callisto preflight
//
//	# Seed domains from a file, one hostname per line
//	callisto seed --file domains.txt
package main

func main() {
	Execute()
}
