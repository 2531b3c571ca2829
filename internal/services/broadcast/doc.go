// Package broadcast delivers one logical message to many recipients
// without violating the transport's rate limit and while tolerating
// partial failure.
//
// The synchronous Send loop paces every message by a fixed inter-message
// delay, retries a rate-limited send exactly once after the transport's
// retry_after, and marks unreachable recipients inactive so future
// fan-outs skip them. Scheduler jobs normally go through Enqueue, which
// hands the fan-out to a small worker pool and tracks per-job status.
package broadcast
