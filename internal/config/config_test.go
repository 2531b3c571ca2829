package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"100ms", 100 * time.Millisecond, false},
		{"5m", 5 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"-1s", 0, true},
		{"300", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDurationField(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseDurationField(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty: %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2s", time.Minute); err != nil || d != 2*time.Second {
		t.Fatalf("explicit: %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "nope", time.Minute); err == nil {
		t.Fatal("invalid value silently defaulted")
	}
}

func TestParseWeekdayOrDefault(t *testing.T) {
	t.Parallel()
	if wd, err := ParseWeekdayOrDefault("x", "", time.Sunday); err != nil || wd != time.Sunday {
		t.Fatalf("empty: %v, %v", wd, err)
	}
	if wd, err := ParseWeekdayOrDefault("x", " Friday ", time.Sunday); err != nil || wd != time.Friday {
		t.Fatalf("mixed case: %v, %v", wd, err)
	}
	if _, err := ParseWeekdayOrDefault("x", "someday", time.Sunday); err == nil {
		t.Fatal("invalid weekday accepted")
	}
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "123:abc"},
		"storage": {"driver": "sqlite", "path": "./duel.db"},
		"duel": {"voting_window": "5m", "min_votes": 3},
		"jobs": {"daily_at": "09:30", "digest_weekday": "sunday"}
	}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Storage.Path != "./duel.db" {
		t.Fatalf("fields: %+v", cfg)
	}
	if cfg.Duel.VotingWindow != "5m" || cfg.Jobs.DailyAt != "09:30" {
		t.Fatalf("fields: %+v", cfg)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
broadcast:
  send_delay: 100ms
  bulk_send_delay: 250ms
duel:
  min_votes: 5
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Duel.MinVotes != 5 {
		t.Fatalf("fields: %+v", cfg)
	}
	if cfg.Broadcast.SendDelay != "100ms" || cfg.Broadcast.BulkSendDelay != "250ms" {
		t.Fatalf("broadcast: %+v", cfg.Broadcast)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x", "tocken_typo": true}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x"}} {"extra": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestLoadCommitsAndGet(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"duel": {"min_votes": 4}}`)
	m := NewManager(path)
	if m.Get() != nil {
		t.Fatal("Get before Load returned a config")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
	if cfg.Duel.MinVotes != 4 {
		t.Fatalf("fields: %+v", cfg)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{}`)
	m := NewManager(path)

	ch := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("nothing delivered")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed on unsubscribe")
	}
	m.Unsubscribe(ch) // repeat is harmless
}
