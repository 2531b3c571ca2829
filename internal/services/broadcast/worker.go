package broadcast

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"duelbot/internal/storage"
	kit "duelbot/internal/transport"
	logx "duelbot/pkg/logx"
)

// Enqueue queues an asynchronous fan-out and returns its job id. Scheduler
// jobs use this so a long broadcast never holds a scheduler worker beyond
// handing the job over.
func (s *Service) Enqueue(name, text string, targets []storage.BroadcastTarget, opt *kit.SendOptions) string {
	now := time.Now()
	id := uuid.NewString()
	s.pruneStatuses(now)

	st := &JobStatus{ID: id, Name: name, Total: len(targets), CreatedAt: now}
	s.statusMu.Lock()
	s.status[id] = st
	s.statusMu.Unlock()

	s.mu.Lock()
	q := s.queue
	running := s.stopCh != nil
	s.mu.Unlock()
	if !running {
		s.log.Debug("broadcast not running; dropping job", logx.String("job", id), logx.String("name", name))
		s.failAll(id)
		return id
	}
	select {
	case q <- job{id: id, name: name, text: text, targets: targets, opt: opt}:
		s.log.Debug("broadcast job enqueued",
			logx.String("job", id), logx.String("name", name), logx.Int("total", len(targets)))
	default:
		s.log.Warn("broadcast queue full; dropping job", logx.String("job", id), logx.String("name", name))
		s.failAll(id)
	}
	return id
}

// Status returns a copy of the job status.
func (s *Service) Status(jobID string) (JobStatus, bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st, ok := s.status[jobID]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return *st, true
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		// fast-exit so stop wins over queued work
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
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.statusMu.Lock()
	if st := s.status[j.id]; st != nil {
		st.Running = true
		st.StartedAt = start
	}
	s.statusMu.Unlock()

	s.log.Info("broadcast job started",
		logx.String("job", j.id), logx.String("name", j.name), logx.Int("total", len(j.targets)))

	rep := s.Send(ctx, j.text, j.targets, j.opt)

	s.statusMu.Lock()
	if st := s.status[j.id]; st != nil {
		st.Report = rep
		st.Running = false
		st.DoneAt = time.Now()
	}
	s.statusMu.Unlock()

	fields := []logx.Field{
		logx.String("job", j.id),
		logx.String("name", j.name),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("rate_limited_retries", rep.RateLimitedRetries),
		logx.Duration("dur", time.Since(start)),
	}
	if rep.Failed > 0 {
		s.log.Warn("broadcast job finished with failures", fields...)
	} else {
		s.log.Info("broadcast job finished", fields...)
	}
}

func (s *Service) failAll(id string) {
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.Report.Failed = st.Total
		st.DoneAt = time.Now()
	}
	s.statusMu.Unlock()
}

// pruneStatuses evicts completed job statuses so memory stays bounded.
func (s *Service) pruneStatuses(now time.Time) {
	s.mu.Lock()
	ttl := s.cfg.StatusTTL
	max := s.cfg.StatusMax
	s.mu.Unlock()
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	if max <= 0 {
		max = defaultStatusMax
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	for id, st := range s.status {
		if st == nil {
			delete(s.status, id)
			continue
		}
		if !st.DoneAt.IsZero() && now.Sub(st.DoneAt) > ttl {
			delete(s.status, id)
			continue
		}
		// Never-started, not-running jobs age out on the same TTL.
		if st.DoneAt.IsZero() && !st.Running && now.Sub(st.CreatedAt) > ttl {
			delete(s.status, id)
		}
	}

	over := len(s.status) - max
	if over <= 0 {
		return
	}
	type aged struct {
		id string
		at time.Time
	}
	var evictable []aged
	for id, st := range s.status {
		if st.Running {
			continue
		}
		at := st.DoneAt
		if at.IsZero() {
			at = st.CreatedAt
		}
		evictable = append(evictable, aged{id: id, at: at})
	}
	sort.Slice(evictable, func(i, j int) bool { return evictable[i].at.Before(evictable[j].at) })
	for i := 0; i < len(evictable) && over > 0; i++ {
		delete(s.status, evictable[i].id)
		over--
	}
}
