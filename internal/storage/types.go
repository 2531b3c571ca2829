package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a duel id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyVoted is returned by InsertVoteAtomic when the (duel, voter)
	// pair already has a committed vote.
	ErrAlreadyVoted = errors.New("already voted")
	// ErrVotingClosed is returned by InsertVoteAtomic when the duel is no
	// longer accepting votes at transaction time (terminal or expired).
	ErrVotingClosed = errors.New("voting closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (production default)
//   - "memory": process-local map store; same semantics, no durability.
//     Fine for tests and single-process runs only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Winner is the winning side of a completed duel; empty means no winner
// (tie or cancelled).
type Winner string

const (
	WinnerA    Winner = "a"
	WinnerB    Winner = "b"
	WinnerNone Winner = ""
)

type Duel struct {
	ID             string
	SideAContentID string
	SideBContentID string
	InitiatorID    int64
	OpponentID     *int64 // nil = open duel, opponent not assigned
	Status         Status
	VotesA         int
	VotesB         int
	TotalVotes     int
	Winner         Winner
	VotingEndsAt   time.Time
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// Terminal reports whether the duel left the active state.
func (d Duel) Terminal() bool { return d.Status != StatusActive }

type DuelVote struct {
	DuelID    string
	VoterID   int64
	Side      Side
	CreatedAt time.Time
}

// BroadcastTarget is a user reachable by outbound broadcasts. For direct
// chats the telegram chat id equals the user id, so UserID doubles as the
// send target.
type BroadcastTarget struct {
	UserID       int64
	LastActiveAt time.Time
	Subscribed   bool
	Inactive     bool
}

// TargetFilter narrows ListBroadcastTargets. Zero times mean "no bound".
// Inactive targets are always excluded.
type TargetFilter struct {
	Subscribed   *bool
	ActiveAfter  time.Time // keep targets with LastActiveAt >= ActiveAfter
	ActiveBefore time.Time // keep targets with LastActiveAt < ActiveBefore
}

// Stats summarizes resolved duel activity since a point in time.
type Stats struct {
	Completed int
	Cancelled int
	Votes     int
}

func boolPtr(v bool) *bool { return &v }

// SubscribedOnly is a TargetFilter matching subscribed, non-inactive users.
func SubscribedOnly() TargetFilter { return TargetFilter{Subscribed: boolPtr(true)} }

// ActiveSince matches non-inactive users seen at or after t.
func ActiveSince(t time.Time) TargetFilter { return TargetFilter{ActiveAfter: t} }

// IdleNonSubscribedSince matches non-subscribed users last seen before t.
func IdleNonSubscribedSince(t time.Time) TargetFilter {
	return TargetFilter{Subscribed: boolPtr(false), ActiveBefore: t}
}
