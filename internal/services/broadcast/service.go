package broadcast

import (
	"context"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"duelbot/internal/storage"
	kit "duelbot/internal/transport"
	logx "duelbot/pkg/logx"
)

func New(cfg Config, notifier kit.Notifier, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		notifier: notifier,
		store:    store,
		log:      log,
		limiter:  newLimiter(cfg.SendDelay),
		queue:    make(chan job, 16),
		status:   map[string]*JobStatus{},
	}
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		delay = defaultSendDelay
	}
	// Burst of 1: every send waits out the fixed inter-message delay.
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = newLimiter(cfg.SendDelay)
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	// The run context is service-owned, not derived from the Start context:
	// a signal landing on the process must not sever a fan-out mid-send.
	// Only Stop ends in-flight work, after the workers drain.
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	// keep queue across restarts (jobs remain pending)
	queue := s.queue
	stopCh := s.stopCh
	runCtx := s.runCtx

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in broadcast worker",
						logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}

	s.log.Info("service started", logx.Int("workers", workers), logx.Duration("send_delay", s.cfg.SendDelay))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, just wait for it.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	// Refuse new work, then let in-flight fan-outs finish. The run context
	// is cancelled only after the workers drain, so a job mid-send keeps a
	// live context for its remaining targets.
	close(stopCh)

	go func() {
		s.workerWG.Wait()
		if cancel != nil {
			cancel()
		}
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// notifierSnapshot returns the mutable collaborators under lock so sends
// don't race with Apply().
func (s *Service) sendDeps() (*rate.Limiter, kit.Notifier, storage.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiter, s.notifier, s.store
}
