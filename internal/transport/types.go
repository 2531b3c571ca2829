package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChatTarget identifies an outbound message destination.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notifier is the minimal outbound transport consumed by the broadcast
// dispatcher and scheduler jobs. Implementations classify failures as
// *RateLimitedError or *PermanentError; anything else is treated as
// transient by callers.
type Notifier interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

// RateLimitedError signals the transport asked us to back off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// PermanentError signals a failure that will not succeed on retry.
// Unreachable means the recipient cannot receive messages at all
// (blocked the bot, deactivated account, chat gone); callers should
// stop targeting them.
type PermanentError struct {
	Unreachable bool
	Err         error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return "permanent send failure: " + e.Err.Error()
	}
	return "permanent send failure"
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsUnreachable reports whether err marks the recipient as gone for good.
func IsUnreachable(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) && pe.Unreachable
}
