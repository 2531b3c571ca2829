package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "duelbot/pkg/logx"
)

// Both drivers must satisfy the same semantics; every test below runs
// against each.
func eachStore(t *testing.T, run func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		run(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "duel.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		run(t, s)
	})
}

// Wall-clock times go through a millisecond column; build them via
// UnixMilli so equality holds across drivers.
func msTime(t *testing.T, offset time.Duration) time.Time {
	t.Helper()
	return time.UnixMilli(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset).UnixMilli())
}

func activeDuel(t *testing.T, s Store, id string, initiator int64, endsAt time.Time) Duel {
	t.Helper()
	d := Duel{
		ID:             id,
		SideAContentID: "content-a-" + id,
		SideBContentID: "content-b-" + id,
		InitiatorID:    initiator,
		Status:         StatusActive,
		VotingEndsAt:   endsAt,
		CreatedAt:      endsAt.Add(-5 * time.Minute),
	}
	if err := s.CreateDuel(context.Background(), d); err != nil {
		t.Fatalf("create duel %s: %v", id, err)
	}
	return d
}

func TestGetDuelRoundTrip(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.GetDuel(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing duel: got %v, want ErrNotFound", err)
		}

		opponent := int64(7)
		endsAt := msTime(t, 10*time.Minute)
		d := Duel{
			ID:             "d1",
			SideAContentID: "a",
			SideBContentID: "b",
			InitiatorID:    1,
			OpponentID:     &opponent,
			Status:         StatusActive,
			VotingEndsAt:   endsAt,
			CreatedAt:      msTime(t, 0),
		}
		if err := s.CreateDuel(ctx, d); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := s.GetDuel(ctx, "d1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ID != d.ID || got.SideAContentID != d.SideAContentID || got.SideBContentID != d.SideBContentID {
			t.Fatalf("identity fields: %+v", got)
		}
		if got.OpponentID == nil || *got.OpponentID != opponent {
			t.Fatalf("opponent: %v", got.OpponentID)
		}
		if !got.VotingEndsAt.Equal(endsAt) || got.Status != StatusActive || got.ResolvedAt != nil {
			t.Fatalf("state fields: %+v", got)
		}
	})
}

func TestInsertVoteAtomicSemantics(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		endsAt := msTime(t, time.Minute)
		activeDuel(t, s, "d1", 1, endsAt)

		if _, _, _, err := s.InsertVoteAtomic(ctx, "nope", 10, SideA, msTime(t, 0)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing duel: got %v, want ErrNotFound", err)
		}

		a, b, total, err := s.InsertVoteAtomic(ctx, "d1", 10, SideA, msTime(t, 0))
		if err != nil {
			t.Fatalf("first vote: %v", err)
		}
		if a != 1 || b != 0 || total != 1 {
			t.Fatalf("counters: a=%d b=%d total=%d", a, b, total)
		}

		// same voter, either side
		if _, _, _, err := s.InsertVoteAtomic(ctx, "d1", 10, SideB, msTime(t, 0)); !errors.Is(err, ErrAlreadyVoted) {
			t.Fatalf("duplicate: got %v, want ErrAlreadyVoted", err)
		}

		// exactly at the deadline is closed
		if _, _, _, err := s.InsertVoteAtomic(ctx, "d1", 11, SideB, endsAt); !errors.Is(err, ErrVotingClosed) {
			t.Fatalf("at deadline: got %v, want ErrVotingClosed", err)
		}

		a, b, total, err = s.InsertVoteAtomic(ctx, "d1", 11, SideB, msTime(t, 30*time.Second))
		if err != nil {
			t.Fatalf("second voter: %v", err)
		}
		if a != 1 || b != 1 || total != 2 {
			t.Fatalf("counters: a=%d b=%d total=%d", a, b, total)
		}

		// terminal duel rejects votes
		if _, _, err := s.SetDuelTerminal(ctx, "d1", msTime(t, time.Minute), func(Duel) (Status, Winner) {
			return StatusCompleted, WinnerNone
		}); err != nil {
			t.Fatalf("terminal: %v", err)
		}
		if _, _, _, err := s.InsertVoteAtomic(ctx, "d1", 12, SideA, msTime(t, 0)); !errors.Is(err, ErrVotingClosed) {
			t.Fatalf("vote on terminal: got %v, want ErrVotingClosed", err)
		}
	})
}

func TestInsertVoteAtomicConcurrentDuplicates(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		activeDuel(t, s, "d1", 1, msTime(t, time.Minute))

		const n = 16
		errs := make(chan error, n)
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				_, _, _, err := s.InsertVoteAtomic(ctx, "d1", 42, SideA, msTime(t, 0))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var ok, dup int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyVoted):
				dup++
			default:
				t.Fatalf("unexpected: %v", err)
			}
		}
		if ok != 1 || dup != n-1 {
			t.Fatalf("got %d ok, %d dup; want 1, %d", ok, dup, n-1)
		}
		d, err := s.GetDuel(ctx, "d1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if d.VotesA != 1 || d.TotalVotes != 1 {
			t.Fatalf("counters: %+v", d)
		}
	})
}

func TestSetDuelTerminalIdempotent(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		activeDuel(t, s, "d1", 1, msTime(t, time.Minute))
		resolvedAt := msTime(t, 2*time.Minute)

		var decided int
		final, applied, err := s.SetDuelTerminal(ctx, "d1", resolvedAt, func(cur Duel) (Status, Winner) {
			decided++
			if cur.Status != StatusActive {
				t.Errorf("decide saw non-active duel: %s", cur.Status)
			}
			return StatusCompleted, WinnerA
		})
		if err != nil {
			t.Fatalf("terminal: %v", err)
		}
		if !applied || decided != 1 {
			t.Fatalf("applied=%v decided=%d", applied, decided)
		}
		if final.Status != StatusCompleted || final.Winner != WinnerA {
			t.Fatalf("final: %+v", final)
		}
		if final.ResolvedAt == nil || !final.ResolvedAt.Equal(resolvedAt) {
			t.Fatalf("resolved_at: %v", final.ResolvedAt)
		}

		// second transition is a no-op and never invokes decide
		again, applied, err := s.SetDuelTerminal(ctx, "d1", msTime(t, time.Hour), func(Duel) (Status, Winner) {
			t.Error("decide called on terminal duel")
			return StatusCancelled, WinnerNone
		})
		if err != nil {
			t.Fatalf("repeat terminal: %v", err)
		}
		if applied {
			t.Fatal("second transition applied")
		}
		if again.Status != StatusCompleted || again.Winner != WinnerA {
			t.Fatalf("stored result changed: %+v", again)
		}

		if _, _, err := s.SetDuelTerminal(ctx, "nope", resolvedAt, func(Duel) (Status, Winner) {
			return StatusCancelled, WinnerNone
		}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing duel: got %v, want ErrNotFound", err)
		}
	})
}

func TestListActiveDuelsExpiringBefore(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		activeDuel(t, s, "old", 1, msTime(t, -time.Minute))
		activeDuel(t, s, "edge", 2, msTime(t, 0))
		activeDuel(t, s, "fresh", 3, msTime(t, time.Minute))

		out, err := s.ListActiveDuelsExpiringBefore(ctx, msTime(t, 0))
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(out) != 2 || out[0].ID != "old" || out[1].ID != "edge" {
			t.Fatalf("expired set: %+v", out)
		}

		busy, err := s.HasActiveDuelByInitiator(ctx, 1)
		if err != nil || !busy {
			t.Fatalf("initiator 1 active: %v %v", busy, err)
		}
		if _, _, err := s.SetDuelTerminal(ctx, "old", msTime(t, 0), func(Duel) (Status, Winner) {
			return StatusCancelled, WinnerNone
		}); err != nil {
			t.Fatalf("terminal: %v", err)
		}
		busy, err = s.HasActiveDuelByInitiator(ctx, 1)
		if err != nil || busy {
			t.Fatalf("initiator 1 after cancel: %v %v", busy, err)
		}
	})
}

func TestBroadcastTargetFilters(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := msTime(t, 0)
		seed := []BroadcastTarget{
			{UserID: 1, LastActiveAt: now, Subscribed: true},
			{UserID: 2, LastActiveAt: now.Add(-48 * time.Hour), Subscribed: true},
			{UserID: 3, LastActiveAt: now.Add(-96 * time.Hour), Subscribed: false},
			{UserID: 4, LastActiveAt: now, Subscribed: false},
			{UserID: 5, LastActiveAt: now, Subscribed: true, Inactive: true},
		}
		for _, tg := range seed {
			if err := s.UpsertBroadcastTarget(ctx, tg); err != nil {
				t.Fatalf("upsert %d: %v", tg.UserID, err)
			}
		}

		ids := func(ts []BroadcastTarget) []int64 {
			out := make([]int64, len(ts))
			for i, tg := range ts {
				out[i] = tg.UserID
			}
			return out
		}

		subs, err := s.ListBroadcastTargets(ctx, SubscribedOnly())
		if err != nil {
			t.Fatalf("subscribed: %v", err)
		}
		wantIDs(t, ids(subs), 1, 2)

		active, err := s.ListBroadcastTargets(ctx, ActiveSince(now.Add(-24*time.Hour)))
		if err != nil {
			t.Fatalf("active: %v", err)
		}
		wantIDs(t, ids(active), 1, 4)

		idle, err := s.ListBroadcastTargets(ctx, IdleNonSubscribedSince(now.Add(-72*time.Hour)))
		if err != nil {
			t.Fatalf("idle: %v", err)
		}
		wantIDs(t, ids(idle), 3)

		// marking inactive removes from every selection; touching revives
		if err := s.MarkUserInactive(ctx, 1); err != nil {
			t.Fatalf("mark inactive: %v", err)
		}
		subs, _ = s.ListBroadcastTargets(ctx, SubscribedOnly())
		wantIDs(t, ids(subs), 2)

		if err := s.TouchUserActivity(ctx, 1, now.Add(time.Hour)); err != nil {
			t.Fatalf("touch: %v", err)
		}
		subs, _ = s.ListBroadcastTargets(ctx, SubscribedOnly())
		wantIDs(t, ids(subs), 1, 2)

		// touch also creates unknown users as non-subscribed targets
		if err := s.TouchUserActivity(ctx, 9, now); err != nil {
			t.Fatalf("touch new: %v", err)
		}
		all, err := s.ListBroadcastTargets(ctx, TargetFilter{})
		if err != nil {
			t.Fatalf("all: %v", err)
		}
		wantIDs(t, ids(all), 1, 2, 3, 4, 9)
	})
}

func TestStatsAndPurge(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		terminal := func(id string, at time.Time, st Status, votes int) {
			d := activeDuel(t, s, id, 1, at)
			for i := 0; i < votes; i++ {
				if _, _, _, err := s.InsertVoteAtomic(ctx, d.ID, int64(100+i), SideA, at.Add(-time.Second)); err != nil {
					t.Fatalf("vote %s: %v", id, err)
				}
			}
			if _, _, err := s.SetDuelTerminal(ctx, id, at, func(Duel) (Status, Winner) {
				return st, WinnerNone
			}); err != nil {
				t.Fatalf("terminal %s: %v", id, err)
			}
		}

		terminal("old-complete", msTime(t, -72*time.Hour), StatusCompleted, 3)
		terminal("old-cancel", msTime(t, -72*time.Hour), StatusCancelled, 1)
		terminal("new-complete", msTime(t, -time.Hour), StatusCompleted, 4)
		activeDuel(t, s, "live", 2, msTime(t, time.Hour))

		st, err := s.DuelStats(ctx, msTime(t, -24*time.Hour))
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if st.Completed != 1 || st.Cancelled != 0 || st.Votes != 4 {
			t.Fatalf("recent stats: %+v", st)
		}

		st, err = s.DuelStats(ctx, msTime(t, -100*time.Hour))
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if st.Completed != 2 || st.Cancelled != 1 || st.Votes != 8 {
			t.Fatalf("all-time stats: %+v", st)
		}

		duels, votes, err := s.PurgeTerminalBefore(ctx, msTime(t, -24*time.Hour))
		if err != nil {
			t.Fatalf("purge: %v", err)
		}
		if duels != 2 || votes != 4 {
			t.Fatalf("purged duels=%d votes=%d", duels, votes)
		}
		if _, err := s.GetDuel(ctx, "old-complete"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("purged duel still readable: %v", err)
		}
		// active and recent duels survive
		if _, err := s.GetDuel(ctx, "live"); err != nil {
			t.Fatalf("live duel gone: %v", err)
		}
		if _, err := s.GetDuel(ctx, "new-complete"); err != nil {
			t.Fatalf("recent duel gone: %v", err)
		}
	})
}

func wantIDs(t *testing.T, got []int64, want ...int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ids: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids: got %v, want %v", got, want)
		}
	}
}
