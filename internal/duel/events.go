package duel

import (
	"sync"
	"time"

	"duelbot/internal/storage"
)

// ResolvedEvent is emitted exactly once per duel, by whichever call actually
// performed the terminal transition. The points/reward collaborator consumes
// it to award win and participation bonuses; this package never touches
// point balances itself.
type ResolvedEvent struct {
	DuelID      string
	InitiatorID int64
	OpponentID  *int64
	Winner      storage.Winner
	Outcome     Outcome
	VotesA      int
	VotesB      int
	TotalVotes  int
	ResolvedAt  time.Time
}

// Events is an in-memory fan-out for ResolvedEvent.
//
// Contract (same as the rest of the bot's internal signalling):
//   - Publish never blocks; slow subscribers drop events.
//   - Subscribers receive on buffered channels and must drain promptly.
type Events struct {
	mu   sync.RWMutex
	seq  uint64
	subs map[uint64]chan ResolvedEvent
}

func NewEvents() *Events {
	return &Events{subs: map[uint64]chan ResolvedEvent{}}
}

func (e *Events) publish(ev ResolvedEvent) {
	e.mu.RLock()
	chs := make([]chan ResolvedEvent, 0, len(e.subs))
	for _, ch := range e.subs {
		chs = append(chs, ch)
	}
	e.mu.RUnlock()

	for _, ch := range chs {
		// A subscriber may close its channel concurrently via unsubscribe;
		// the recover keeps publish from ever propagating that.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- ev:
			default:
			}
		}()
	}
}

// Subscribe registers a listener. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (e *Events) Subscribe(buffer int) (<-chan ResolvedEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ResolvedEvent, buffer)

	e.mu.Lock()
	e.seq++
	id := e.seq
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
