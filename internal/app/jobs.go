package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"duelbot/internal/config"
	"duelbot/internal/storage"
	logx "duelbot/pkg/logx"
)

// Texts builds the outbound broadcast bodies. The default implementation
// reads static texts from config; a content service can replace it via
// SetTexts.
type Texts interface {
	Daily(ctx context.Context) (string, error)
	Digest(ctx context.Context, st storage.Stats, since time.Time) (string, error)
	Reminder(ctx context.Context) (string, error)
}

type configTexts struct {
	jobs config.JobsConfig
}

func (t configTexts) Daily(_ context.Context) (string, error) {
	if s := strings.TrimSpace(t.jobs.DailyText); s != "" {
		return s, nil
	}
	return "A new duel day has started. Pick a side!", nil
}

func (t configTexts) Digest(_ context.Context, st storage.Stats, since time.Time) (string, error) {
	return fmt.Sprintf(
		"Weekly duel digest (since %s):\n- completed: %d\n- cancelled: %d\n- votes cast: %d",
		since.Format("Jan 2"), st.Completed, st.Cancelled, st.Votes), nil
}

func (t configTexts) Reminder(_ context.Context) (string, error) {
	if s := strings.TrimSpace(t.jobs.ReminderText); s != "" {
		return s, nil
	}
	return "It has been a while. Start a duel or cast a vote!", nil
}

// jobSettings are the resolved trigger times. They are read once at startup;
// changing them requires a restart.
type jobSettings struct {
	sweepEvery time.Duration

	dailyAt string

	digestWeekday time.Weekday
	digestAt      string
	digestWindow  time.Duration

	reminderAt   string
	reminderIdle time.Duration

	cleanupWeekday time.Weekday
	cleanupAt      string
	retention      time.Duration
}

func buildJobSettings(cfg *config.Config) (jobSettings, error) {
	j := cfg.Jobs
	var (
		js  jobSettings
		err error
	)
	if js.sweepEvery, err = config.ParseDurationOrDefault("jobs.sweep_every", j.SweepEvery, 60*time.Second); err != nil {
		return js, err
	}

	js.dailyAt = orDefault(j.DailyAt, "09:00")

	if js.digestWeekday, err = config.ParseWeekdayOrDefault("jobs.digest_weekday", j.DigestWeekday, time.Sunday); err != nil {
		return js, err
	}
	js.digestAt = orDefault(j.DigestAt, "10:00")
	js.digestWindow = daysOrDefault(j.DigestActiveDays, 7)

	js.reminderAt = orDefault(j.ReminderAt, "18:00")
	js.reminderIdle = daysOrDefault(j.ReminderInactiveDays, 3)

	if js.cleanupWeekday, err = config.ParseWeekdayOrDefault("jobs.cleanup_weekday", j.CleanupWeekday, time.Monday); err != nil {
		return js, err
	}
	js.cleanupAt = orDefault(j.CleanupAt, "04:00")
	js.retention = daysOrDefault(j.RetentionDays, 30)
	return js, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}

func daysOrDefault(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * 24 * time.Hour
}

// registerJobs installs the recurring work. Scheduler jobs hand fan-outs to
// the broadcast pools and return; they never pace sends themselves.
func (a *App) registerJobs() error {
	if err := a.sched.AddInterval("duel:sweep", a.jobs.sweepEvery, 0, a.runSweep); err != nil {
		return err
	}
	if err := a.sched.AddDaily("broadcast:daily", a.jobs.dailyAt, 0, a.runDaily); err != nil {
		return err
	}
	if err := a.sched.AddWeekly("broadcast:digest", a.jobs.digestWeekday, a.jobs.digestAt, 0, a.runDigest); err != nil {
		return err
	}
	if err := a.sched.AddDaily("broadcast:reminder", a.jobs.reminderAt, 0, a.runReminder); err != nil {
		return err
	}
	return a.sched.AddWeekly("storage:cleanup", a.jobs.cleanupWeekday, a.jobs.cleanupAt, 0, a.runCleanup)
}

func (a *App) runSweep(ctx context.Context) error {
	resolved, err := a.engine.SweepExpired(ctx, time.Now())
	if len(resolved) > 0 {
		a.log.Info("expired duels resolved", logx.Int("count", len(resolved)))
	}
	return err
}

func (a *App) runDaily(ctx context.Context) error {
	targets, err := a.store.ListBroadcastTargets(ctx, storage.SubscribedOnly())
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		a.log.Debug("daily broadcast: no subscribed targets")
		return nil
	}
	text, err := a.texts.Daily(ctx)
	if err != nil {
		return err
	}
	a.bulk.Enqueue("daily", text, targets, nil)
	return nil
}

func (a *App) runDigest(ctx context.Context) error {
	since := time.Now().Add(-a.jobs.digestWindow)
	st, err := a.store.DuelStats(ctx, since)
	if err != nil {
		return err
	}
	targets, err := a.store.ListBroadcastTargets(ctx, storage.ActiveSince(since))
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		a.log.Debug("digest: no recently active targets")
		return nil
	}
	text, err := a.texts.Digest(ctx, st, since)
	if err != nil {
		return err
	}
	a.bulk.Enqueue("digest", text, targets, nil)
	return nil
}

func (a *App) runReminder(ctx context.Context) error {
	cutoff := time.Now().Add(-a.jobs.reminderIdle)
	targets, err := a.store.ListBroadcastTargets(ctx, storage.IdleNonSubscribedSince(cutoff))
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}
	text, err := a.texts.Reminder(ctx)
	if err != nil {
		return err
	}
	a.bcast.Enqueue("reminder", text, targets, nil)
	return nil
}

func (a *App) runCleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-a.jobs.retention)
	duels, votes, err := a.store.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	a.log.Info("terminal duels purged",
		logx.Int64("duels", duels), logx.Int64("votes", votes), logx.Time("cutoff", cutoff))
	return nil
}
