// Package telegram adapts gopkg.in/telebot.v4 to the transport.Notifier
// contract. This bot never consumes updates (command routing lives in a
// separate process); the adapter is send-only.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "duelbot/internal/transport"
	logx "duelbot/pkg/logx"
)

type Config struct {
	Token string
	// Offline skips the getMe call on startup; used by tests.
	Offline bool
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" && !cfg.Offline {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sendOpt := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		sendOpt.ParseMode = tele.ParseMode(opt.ParseMode)
		sendOpt.DisableWebPagePreview = opt.DisablePreview
	}
	_, err := a.bot.Send(tele.ChatID(to.ChatID), text, sendOpt)
	if err == nil {
		return nil
	}
	return classify(err)
}

// classify translates telebot errors into the transport taxonomy so the
// dispatcher can decide between backoff, target inactivation and plain failure.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &kit.RateLimitedError{RetryAfter: floodDelay(flood.RetryAfter)}
	}
	var floodp *tele.FloodError
	if errors.As(err, &floodp) {
		return &kit.RateLimitedError{RetryAfter: floodDelay(floodp.RetryAfter)}
	}
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrNotStartedByUser),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrChatNotFound):
		return &kit.PermanentError{Unreachable: true, Err: err}
	}
	// Unknown API or network error: let the caller treat it as transient.
	return err
}

func floodDelay(seconds int) time.Duration {
	if seconds <= 0 {
		return time.Second
	}
	return time.Duration(seconds) * time.Second
}
