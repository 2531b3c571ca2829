// Package storage persists duels, votes and broadcast targets.
//
// Two drivers exist: "sqlite" (the default, durable, safe for multiple
// processes sharing one database file) and "memory" (single-process only).
// Both enforce the same contracts: one vote per (duel, voter), vote counter
// updates atomic with the vote insert, and terminal status transitions that
// are idempotent no-ops once a duel has left the active state.
package storage
