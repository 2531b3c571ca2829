package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "duelbot/pkg/logx"
)

// Store is the persistence API consumed by the duel engine and the
// scheduler jobs. All duel/vote mutation goes through it; counter updates
// and terminal transitions are atomic at this boundary, not in callers.
type Store interface {
	CreateDuel(ctx context.Context, d Duel) error
	GetDuel(ctx context.Context, id string) (Duel, error)
	ListActiveDuelsExpiringBefore(ctx context.Context, ts time.Time) ([]Duel, error)
	HasActiveDuelByInitiator(ctx context.Context, initiatorID int64) (bool, error)

	// InsertVoteAtomic inserts the vote row and bumps the side counter in a
	// single atomic unit. It re-validates that the duel is still open at
	// commit time and returns the updated counters.
	InsertVoteAtomic(ctx context.Context, duelID string, voterID int64, side Side, at time.Time) (votesA, votesB, total int, err error)

	// SetDuelTerminal moves an active duel to a terminal status. The decide
	// callback runs inside the store's atomic unit against fully-committed
	// counters, so a last-moment vote can never skew the outcome. Calling it
	// on an already-terminal duel is a no-op: it returns the stored duel
	// with applied=false.
	SetDuelTerminal(ctx context.Context, duelID string, resolvedAt time.Time, decide func(Duel) (Status, Winner)) (d Duel, applied bool, err error)

	ListBroadcastTargets(ctx context.Context, f TargetFilter) ([]BroadcastTarget, error)
	UpsertBroadcastTarget(ctx context.Context, t BroadcastTarget) error
	TouchUserActivity(ctx context.Context, userID int64, at time.Time) error
	MarkUserInactive(ctx context.Context, userID int64) error

	DuelStats(ctx context.Context, since time.Time) (Stats, error)
	// PurgeTerminalBefore deletes terminal duels resolved before cutoff,
	// together with their votes.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (duels, votes int64, err error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
