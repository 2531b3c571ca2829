package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "duelbot/pkg/logx"
)

// AddCron registers a job under a stable, human-readable name. Re-registering
// the same name replaces the previous schedule (upsert), which keeps
// config reloads from piling up duplicates.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.removeLocked(name)
	d := scheduleDef{
		name:    name,
		spec:    spec,
		timeout: s.resolveTimeout(timeout),
		job:     job,
		state:   &runState{},
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.defs[len(s.defs)-1].entryID = s.addCronLocked(d)
	}
	// Scheduler not started yet: the definition registers on Start().
	return nil
}

// AddInterval registers a fixed-interval job (cron "@every" under the hood).
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) error {
	if every <= 0 {
		return errors.New("interval must be positive")
	}
	return s.AddCron(name, fmt.Sprintf("@every %s", every.String()), timeout, job)
}

// AddDaily runs the job daily at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name string, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// AddWeekly runs the job weekly on the given weekday at HH:MM (scheduler timezone).
func (s *Service) AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	dow := int(weekday) // Sunday=0
	return s.AddCron(name, fmt.Sprintf("%d %d * * %d", m, h, dow), timeout, job)
}

// Remove unschedules the named job. Safe to call when not started.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

// removeLocked removes all defs matching name and unregisters them from cron
// if running. Call with s.mu held.
func (s *Service) removeLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	if s.c != nil {
		for i := range s.defs {
			if s.defs[i].name == name && s.defs[i].entryID != 0 {
				s.c.Remove(s.defs[i].entryID)
				s.defs[i].entryID = 0
				removed = true
			}
		}
	}
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// addCronLocked registers one definition with cron and returns its entry id.
// The definition is taken by value: the closure must never alias s.defs'
// backing array, which compacts on removal and reuses slots on upsert.
func (s *Service) addCronLocked(d scheduleDef) cron.EntryID {
	eid, err := s.c.AddFunc(d.spec, func() {
		// Overlap control: the same job never runs twice at once. The slot
		// is simply skipped, there is no catch-up.
		if !d.state.tryAcquire() {
			s.log.Debug("schedule skipped (previous run still running)", logx.String("task", d.name))
			return
		}
		s.enqueue(task{name: d.name, timeout: d.timeout, run: d.job, state: d.state})
	})
	if err != nil {
		// Specs are validated in AddCron; this only fires on internal misuse.
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return 0
	}
	s.log.Debug("schedule registered",
		logx.String("name", d.name), logx.String("spec", d.spec), logx.Duration("timeout", d.timeout))
	return eid
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
