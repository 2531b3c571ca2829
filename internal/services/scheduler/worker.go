package scheduler

import (
	"context"
	"time"

	logx "duelbot/pkg/logx"
)

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("scheduler not running; dropping task", logx.String("task", t.name))
		t.state.release()
		return
	}
	select {
	case q <- t:
		// ok
	default:
		s.log.Warn("scheduler queue full; dropping task",
			logx.String("task", t.name), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
		t.state.release()
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

// execOne runs a single job dispatch. Job errors are logged and swallowed
// here, at the dispatch boundary: a failing job never blocks the loop, and
// its next occurrence fires on schedule with no in-between retries.
func (s *Service) execOne(ctx context.Context, t task) {
	defer t.state.release()

	start := time.Now()
	runCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	err := t.run(runCtx)
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	item := HistoryItem{Name: t.name, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task failed", logx.String("task", t.name), logx.Duration("dur", dur), logx.Err(err))
	} else if dur >= 750*time.Millisecond {
		s.log.Info("task completed", logx.String("task", t.name), logx.Duration("dur", dur))
	} else {
		s.log.Debug("task completed", logx.String("task", t.name), logx.Duration("dur", dur))
	}

	s.mu.Lock()
	historySize := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	// A zero/negative history_size would mean unbounded growth on a
	// long-running bot, so cap it.
	if historySize <= 0 {
		historySize = 200
	}
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}
