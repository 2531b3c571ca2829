package duel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"duelbot/internal/storage"
	logx "duelbot/pkg/logx"
)

// Engine owns the duel lifecycle: creation, vote casting, resolution and
// cancellation. All state lives in the Store; the engine enforces ordering
// of precondition checks and computes results, while the atomicity of the
// actual mutations is the Store's job.
type Engine struct {
	cfg    Config
	store  storage.Store
	events *Events
	log    logx.Logger

	// now is swappable so tests can drive the clock.
	now func() time.Time
}

func NewEngine(cfg Config, store storage.Store, events *Events, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if events == nil {
		events = NewEvents()
	}
	return &Engine{
		cfg:    cfg.withDefaults(),
		store:  store,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// Events exposes the DuelResolved stream for external consumers.
func (e *Engine) Events() *Events { return e.events }

// Create starts a new duel between two content items. opponentID may be nil
// for an open duel; opponent assignment is the content-selection service's
// concern, not ours.
func (e *Engine) Create(ctx context.Context, initiatorID int64, sideAContentID, sideBContentID string, opponentID *int64) (storage.Duel, error) {
	if sideAContentID == "" || sideBContentID == "" || sideAContentID == sideBContentID {
		return storage.Duel{}, ErrSameContent
	}
	if e.cfg.OneActivePerUser {
		busy, err := e.store.HasActiveDuelByInitiator(ctx, initiatorID)
		if err != nil {
			return storage.Duel{}, fmt.Errorf("check active duel: %w", err)
		}
		if busy {
			return storage.Duel{}, ErrDuplicateActiveDuel
		}
	}

	now := e.now()
	d := storage.Duel{
		ID:             uuid.NewString(),
		SideAContentID: sideAContentID,
		SideBContentID: sideBContentID,
		InitiatorID:    initiatorID,
		OpponentID:     opponentID,
		Status:         storage.StatusActive,
		VotingEndsAt:   now.Add(e.cfg.VotingWindow),
		CreatedAt:      now,
	}
	if err := e.store.CreateDuel(ctx, d); err != nil {
		return storage.Duel{}, fmt.Errorf("create duel: %w", err)
	}
	e.log.Info("duel created",
		logx.String("duel", d.ID),
		logx.Int64("initiator", initiatorID),
		logx.Time("ends_at", d.VotingEndsAt))
	return d, nil
}

// CastVote records one vote. Precondition failures are reported in a fixed
// order: NotFound, VotingClosed, SelfVoteForbidden, AlreadyVoted. If the
// duel's window has passed but no sweep has run yet, this call resolves the
// duel itself before returning ErrVotingClosed, so expiry is never invisible.
func (e *Engine) CastVote(ctx context.Context, duelID string, voterID int64, side storage.Side) (VoteResult, error) {
	if side != storage.SideA && side != storage.SideB {
		return VoteResult{}, fmt.Errorf("invalid side %q", side)
	}

	d, err := e.store.GetDuel(ctx, duelID)
	if errors.Is(err, storage.ErrNotFound) {
		return VoteResult{}, ErrNotFound
	}
	if err != nil {
		return VoteResult{}, fmt.Errorf("get duel: %w", err)
	}
	if d.Terminal() {
		return VoteResult{}, ErrVotingClosed
	}

	now := e.now()
	if !now.Before(d.VotingEndsAt) {
		if _, err := e.Resolve(ctx, duelID); err != nil {
			e.log.Warn("resolve on late vote failed", logx.String("duel", duelID), logx.Err(err))
		}
		return VoteResult{}, ErrVotingClosed
	}
	if voterID == d.InitiatorID || (d.OpponentID != nil && voterID == *d.OpponentID) {
		return VoteResult{}, ErrSelfVoteForbidden
	}

	// The store re-validates liveness inside its transaction; a concurrent
	// sweep or duplicate vote surfaces here, never as a silent success.
	a, b, total, err := e.store.InsertVoteAtomic(ctx, duelID, voterID, side, now)
	switch {
	case errors.Is(err, storage.ErrAlreadyVoted):
		return VoteResult{}, ErrAlreadyVoted
	case errors.Is(err, storage.ErrVotingClosed):
		return VoteResult{}, ErrVotingClosed
	case errors.Is(err, storage.ErrNotFound):
		return VoteResult{}, ErrNotFound
	case err != nil:
		return VoteResult{}, fmt.Errorf("insert vote: %w", err)
	}

	return VoteResult{DuelID: duelID, Side: side, VotesA: a, VotesB: b, TotalVotes: total}, nil
}

// Resolve moves a duel to its terminal state and returns the result.
// Idempotent: on an already-terminal duel it returns the stored result.
func (e *Engine) Resolve(ctx context.Context, duelID string) (ResolutionResult, error) {
	d, err := e.store.GetDuel(ctx, duelID)
	if errors.Is(err, storage.ErrNotFound) {
		return ResolutionResult{}, ErrNotFound
	}
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("get duel: %w", err)
	}
	if d.Terminal() {
		return resultFromDuel(d), nil
	}

	// The decision runs inside the store's atomic unit so it sees the final
	// committed counters, not the snapshot read above.
	minVotes := e.cfg.MinVotes
	final, applied, err := e.store.SetDuelTerminal(ctx, duelID, e.now(),
		func(cur storage.Duel) (storage.Status, storage.Winner) {
			return decide(cur, minVotes)
		})
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("set terminal: %w", err)
	}
	res := resultFromDuel(final)
	if applied {
		e.log.Info("duel resolved",
			logx.String("duel", duelID),
			logx.String("outcome", string(res.Outcome)),
			logx.String("winner", string(res.Winner)),
			logx.Int("votes_a", res.VotesA),
			logx.Int("votes_b", res.VotesB))
		e.emitResolved(final, res)
	}
	return res, nil
}

func (e *Engine) emitResolved(final storage.Duel, res ResolutionResult) {
	e.events.publish(ResolvedEvent{
		DuelID:      final.ID,
		InitiatorID: final.InitiatorID,
		OpponentID:  final.OpponentID,
		Winner:      res.Winner,
		Outcome:     res.Outcome,
		VotesA:      res.VotesA,
		VotesB:      res.VotesB,
		TotalVotes:  res.TotalVotes,
		ResolvedAt:  res.ResolvedAt,
	})
}

// Cancel terminates a duel without a winner, regardless of votes. Safe to
// call on already-terminal duels.
func (e *Engine) Cancel(ctx context.Context, duelID string) (ResolutionResult, error) {
	d, err := e.store.GetDuel(ctx, duelID)
	if errors.Is(err, storage.ErrNotFound) {
		return ResolutionResult{}, ErrNotFound
	}
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("get duel: %w", err)
	}
	if d.Terminal() {
		return resultFromDuel(d), nil
	}
	final, applied, err := e.store.SetDuelTerminal(ctx, duelID, e.now(),
		func(storage.Duel) (storage.Status, storage.Winner) {
			return storage.StatusCancelled, storage.WinnerNone
		})
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("set terminal: %w", err)
	}
	res := resultFromDuel(final)
	if applied {
		e.log.Info("duel cancelled", logx.String("duel", duelID))
		e.emitResolved(final, res)
	}
	return res, nil
}

// SweepExpired resolves every active duel whose voting window has passed.
// A duel that fails on a transient store error is left for the next sweep
// tick; the sweep interval bounds resolution latency.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) ([]ResolutionResult, error) {
	expired, err := e.store.ListActiveDuelsExpiringBefore(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	results := make([]ResolutionResult, 0, len(expired))
	for _, d := range expired {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.Resolve(ctx, d.ID)
		if err != nil {
			e.log.Warn("sweep resolve failed", logx.String("duel", d.ID), logx.Err(err))
			continue
		}
		results = append(results, res)
	}
	if len(results) > 0 {
		e.log.Info("sweep resolved duels", logx.Int("count", len(results)))
	}
	return results, nil
}

// decide computes the terminal state from committed counters.
// Below the participation threshold the duel is cancelled; an exact tie is
// a completed duel with no winner.
func decide(d storage.Duel, minVotes int) (storage.Status, storage.Winner) {
	if d.TotalVotes < minVotes {
		return storage.StatusCancelled, storage.WinnerNone
	}
	switch {
	case d.VotesA > d.VotesB:
		return storage.StatusCompleted, storage.WinnerA
	case d.VotesB > d.VotesA:
		return storage.StatusCompleted, storage.WinnerB
	default:
		return storage.StatusCompleted, storage.WinnerNone
	}
}
