package telegram

import (
	"errors"
	"fmt"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "duelbot/internal/transport"
)

func TestClassifyFlood(t *testing.T) {
	t.Parallel()
	err := classify(tele.FloodError{RetryAfter: 7})
	var rl *kit.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("flood not classified: %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Fatalf("retry after: %v", rl.RetryAfter)
	}

	// a zero retry_after still backs off a little
	err = classify(tele.FloodError{})
	if !errors.As(err, &rl) || rl.RetryAfter != time.Second {
		t.Fatalf("zero flood: %v", err)
	}
}

func TestClassifyUnreachable(t *testing.T) {
	t.Parallel()
	for _, src := range []error{
		tele.ErrBlockedByUser,
		tele.ErrUserIsDeactivated,
		tele.ErrNotStartedByUser,
		tele.ErrKickedFromGroup,
		tele.ErrChatNotFound,
	} {
		got := classify(src)
		if !kit.IsUnreachable(got) {
			t.Errorf("%v not classified unreachable: %v", src, got)
		}
		// the original error stays reachable for logging
		if !errors.Is(got, src) {
			t.Errorf("%v lost through classification: %v", src, got)
		}
	}
}

func TestClassifyPassthrough(t *testing.T) {
	t.Parallel()
	src := fmt.Errorf("api error: something else")
	if got := classify(src); got != src {
		t.Fatalf("transient error rewritten: %v", got)
	}
	if kit.IsUnreachable(classify(src)) {
		t.Fatal("transient error marked unreachable")
	}
}
