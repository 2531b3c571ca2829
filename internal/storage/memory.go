package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps everything behind one mutex, which gives it the same
// atomicity guarantees as the sqlite driver within a single process. It
// cannot provide cross-process exactly-once semantics; use sqlite for that.
type memoryStore struct {
	mu      sync.Mutex
	duels   map[string]*Duel
	votes   map[string]map[int64]DuelVote
	targets map[int64]BroadcastTarget
}

// NewMemory returns a process-local Store for tests and single-process runs.
func NewMemory() Store {
	return &memoryStore{
		duels:   map[string]*Duel{},
		votes:   map[string]map[int64]DuelVote{},
		targets: map[int64]BroadcastTarget{},
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) CreateDuel(_ context.Context, d Duel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := d
	s.duels[d.ID] = &cp
	return nil
}

func (s *memoryStore) GetDuel(_ context.Context, id string) (Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.duels[id]
	if !ok {
		return Duel{}, ErrNotFound
	}
	return *d, nil
}

func (s *memoryStore) ListActiveDuelsExpiringBefore(_ context.Context, ts time.Time) ([]Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Duel
	for _, d := range s.duels {
		if d.Status == StatusActive && !d.VotingEndsAt.After(ts) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VotingEndsAt.Before(out[j].VotingEndsAt) })
	return out, nil
}

func (s *memoryStore) HasActiveDuelByInitiator(_ context.Context, initiatorID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.duels {
		if d.InitiatorID == initiatorID && d.Status == StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) InsertVoteAtomic(_ context.Context, duelID string, voterID int64, side Side, at time.Time) (int, int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.duels[duelID]
	if !ok {
		return 0, 0, 0, ErrNotFound
	}
	if d.Status != StatusActive || !at.Before(d.VotingEndsAt) {
		return 0, 0, 0, ErrVotingClosed
	}
	byVoter := s.votes[duelID]
	if byVoter == nil {
		byVoter = map[int64]DuelVote{}
		s.votes[duelID] = byVoter
	}
	if _, dup := byVoter[voterID]; dup {
		return 0, 0, 0, ErrAlreadyVoted
	}
	byVoter[voterID] = DuelVote{DuelID: duelID, VoterID: voterID, Side: side, CreatedAt: at}
	if side == SideB {
		d.VotesB++
	} else {
		d.VotesA++
	}
	d.TotalVotes++
	return d.VotesA, d.VotesB, d.TotalVotes, nil
}

func (s *memoryStore) SetDuelTerminal(_ context.Context, duelID string, resolvedAt time.Time, decide func(Duel) (Status, Winner)) (Duel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.duels[duelID]
	if !ok {
		return Duel{}, false, ErrNotFound
	}
	if d.Status != StatusActive {
		return *d, false, nil
	}
	status, winner := decide(*d)
	d.Status = status
	d.Winner = winner
	t := resolvedAt
	d.ResolvedAt = &t
	return *d, true, nil
}

func (s *memoryStore) ListBroadcastTargets(_ context.Context, f TargetFilter) ([]BroadcastTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BroadcastTarget
	for _, t := range s.targets {
		if t.Inactive {
			continue
		}
		if f.Subscribed != nil && t.Subscribed != *f.Subscribed {
			continue
		}
		if !f.ActiveAfter.IsZero() && t.LastActiveAt.Before(f.ActiveAfter) {
			continue
		}
		if !f.ActiveBefore.IsZero() && !t.LastActiveAt.Before(f.ActiveBefore) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memoryStore) UpsertBroadcastTarget(_ context.Context, t BroadcastTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[t.UserID] = t
	return nil
}

func (s *memoryStore) TouchUserActivity(_ context.Context, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.targets[userID]
	t.UserID = userID
	t.LastActiveAt = at
	t.Inactive = false
	s.targets[userID] = t
	return nil
}

func (s *memoryStore) MarkUserInactive(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.targets[userID]; ok {
		t.Inactive = true
		s.targets[userID] = t
	}
	return nil
}

func (s *memoryStore) DuelStats(_ context.Context, since time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, d := range s.duels {
		if d.ResolvedAt == nil || d.ResolvedAt.Before(since) {
			continue
		}
		switch d.Status {
		case StatusCompleted:
			st.Completed++
		case StatusCancelled:
			st.Cancelled++
		}
		st.Votes += d.TotalVotes
	}
	return st, nil
}

func (s *memoryStore) PurgeTerminalBefore(_ context.Context, cutoff time.Time) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var duels, votes int64
	for id, d := range s.duels {
		if d.Status == StatusActive || d.ResolvedAt == nil || !d.ResolvedAt.Before(cutoff) {
			continue
		}
		votes += int64(len(s.votes[id]))
		delete(s.votes, id)
		delete(s.duels, id)
		duels++
	}
	return duels, votes, nil
}
