package duel

import (
	"errors"
	"time"

	"duelbot/internal/storage"
)

// Validation errors, surfaced to the command layer for direct user-facing
// translation. None of them is retried internally.
var (
	ErrNotFound            = errors.New("duel not found")
	ErrVotingClosed        = errors.New("voting closed")
	ErrAlreadyVoted        = errors.New("already voted")
	ErrSelfVoteForbidden   = errors.New("self-vote forbidden")
	ErrDuplicateActiveDuel = errors.New("initiator already has an active duel")
	ErrSameContent         = errors.New("duel sides must be different content")
)

type Config struct {
	// VotingWindow is how long a duel accepts votes after creation.
	VotingWindow time.Duration
	// MinVotes is the participation threshold below which an expired duel
	// is cancelled instead of completed.
	MinVotes int
	// OneActivePerUser rejects Create while the initiator owns an active duel.
	OneActivePerUser bool
}

func (c Config) withDefaults() Config {
	if c.VotingWindow <= 0 {
		c.VotingWindow = 300 * time.Second
	}
	if c.MinVotes <= 0 {
		c.MinVotes = 3
	}
	return c
}

// VoteResult reports the counters after a successful vote.
type VoteResult struct {
	DuelID     string
	Side       storage.Side
	VotesA     int
	VotesB     int
	TotalVotes int
}

// Outcome classifies how a duel left the active state.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeTie       Outcome = "tie"
	OutcomeCancelled Outcome = "cancelled"
)

// ResolutionResult is the terminal state of a duel. Resolve returns the same
// value no matter how many times it is called.
type ResolutionResult struct {
	DuelID     string
	Status     storage.Status
	Winner     storage.Winner
	Outcome    Outcome
	VotesA     int
	VotesB     int
	TotalVotes int
	ResolvedAt time.Time
}

func resultFromDuel(d storage.Duel) ResolutionResult {
	r := ResolutionResult{
		DuelID:     d.ID,
		Status:     d.Status,
		Winner:     d.Winner,
		VotesA:     d.VotesA,
		VotesB:     d.VotesB,
		TotalVotes: d.TotalVotes,
	}
	if d.ResolvedAt != nil {
		r.ResolvedAt = *d.ResolvedAt
	}
	switch {
	case d.Status == storage.StatusCancelled:
		r.Outcome = OutcomeCancelled
	case d.Winner == storage.WinnerNone:
		r.Outcome = OutcomeTie
	default:
		r.Outcome = OutcomeWin
	}
	return r
}
