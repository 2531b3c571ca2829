// Package scheduler drives the bot's recurring jobs (duel expiry sweep,
// broadcasts, cleanup) from a single cron instance feeding a small worker
// pool.
//
// Jobs are registered under stable names with cron specs, fixed intervals
// ("@every"), or the AddDaily/AddWeekly HH:MM helpers, all evaluated in the
// configured timezone. One job never overlaps itself: if a run is still in
// flight when its next slot fires, the slot is skipped (at-most-once per
// slot, no catch-up). Distinct jobs run concurrently on separate workers.
// Job errors are logged at the dispatch boundary and never crash the loop.
//
// Stop() refuses new dispatches and waits for in-flight runs, bounded by
// the caller's context; whatever is still running past the grace period
// finishes in the background.
package scheduler
