package broadcast

import (
	"context"
	"errors"
	"time"

	"duelbot/internal/storage"
	kit "duelbot/internal/transport"
	logx "duelbot/pkg/logx"
)

// Send fans one logical message out to targets, sequentially, paced by the
// configured inter-message delay. Per-target policy:
//
//   - rate_limited: sleep the transport's retry_after, retry exactly once;
//     a second rate limit or any failure on the retry counts as failed.
//   - permanent failure with an unreachable recipient: mark the user
//     inactive in the store so future broadcasts skip them, count as failed.
//   - any other error: count as failed, move on.
//
// Send never returns an error for per-target failures; the report is always
// complete. If ctx is cancelled mid-fan-out the remaining targets are
// counted as failed so Sent+Failed always equals len(targets).
func (s *Service) Send(ctx context.Context, text string, targets []storage.BroadcastTarget, opt *kit.SendOptions) Report {
	var rep Report
	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			rep.Failed += len(targets) - i
			return rep
		}
		if err := s.sendOne(ctx, t, text, opt, &rep); err != nil {
			rep.Failed++
		} else {
			rep.Sent++
		}
	}
	return rep
}

func (s *Service) sendOne(ctx context.Context, t storage.BroadcastTarget, text string, opt *kit.SendOptions, rep *Report) error {
	limiter, notifier, store := s.sendDeps()

	// Pacing applies regardless of outcome, including before retries.
	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	to := kit.ChatTarget{ChatID: t.UserID}
	err := notifier.SendText(ctx, to, text, opt)
	var rl *kit.RateLimitedError
	if errors.As(err, &rl) {
		rep.RateLimitedRetries++
		s.log.Debug("send rate limited; retrying once",
			logx.Int64("user", t.UserID), logx.Duration("retry_after", rl.RetryAfter))
		if werr := sleepCtx(ctx, rl.RetryAfter); werr != nil {
			return werr
		}
		err = notifier.SendText(ctx, to, text, opt)
	}
	if err == nil {
		return nil
	}

	if kit.IsUnreachable(err) {
		// The recipient blocked the bot or is gone; stop targeting them.
		if merr := store.MarkUserInactive(ctx, t.UserID); merr != nil {
			s.log.Warn("mark inactive failed", logx.Int64("user", t.UserID), logx.Err(merr))
		} else {
			s.log.Info("target marked inactive", logx.Int64("user", t.UserID))
		}
	} else {
		s.log.Warn("send failed", logx.Int64("user", t.UserID), logx.Err(err))
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
