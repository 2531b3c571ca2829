package config

// Config is the static startup configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "5m"); clock-of-day fields are "HH:MM" in the
// scheduler timezone.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Duel      DuelConfig      `json:"duel"`
	Jobs      JobsConfig      `json:"jobs"`
	Events    EventsConfig    `json:"events,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./duelbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SchedulerConfig struct {
	Workers        int    `json:"workers,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	Timezone       string `json:"timezone,omitempty"` // IANA TZ, e.g. "Europe/Moscow"
}

// BroadcastConfig controls fan-out throttling.
//
// SendDelay is the default inter-message delay; BulkSendDelay applies to the
// large fan-outs (daily broadcast, weekly digest) and should be larger.
type BroadcastConfig struct {
	Workers       int    `json:"workers,omitempty"`
	SendDelay     string `json:"send_delay,omitempty"`      // default "100ms"
	BulkSendDelay string `json:"bulk_send_delay,omitempty"` // default: send_delay
}

type DuelConfig struct {
	VotingWindow     string `json:"voting_window,omitempty"` // default "300s"
	MinVotes         int    `json:"min_votes,omitempty"`     // default 3
	OneActivePerUser *bool  `json:"one_active_per_user,omitempty"`
}

// JobsConfig defines trigger times for the recurring jobs. Weekdays are
// lowercase English names ("sunday".."saturday").
type JobsConfig struct {
	SweepEvery string `json:"sweep_every,omitempty"` // default "60s"

	DailyAt   string `json:"daily_at,omitempty"` // default "09:00"
	DailyText string `json:"daily_text,omitempty"`

	DigestWeekday    string `json:"digest_weekday,omitempty"` // default "sunday"
	DigestAt         string `json:"digest_at,omitempty"`      // default "10:00"
	DigestActiveDays int    `json:"digest_active_days,omitempty"`

	ReminderAt           string `json:"reminder_at,omitempty"` // default "18:00"
	ReminderText         string `json:"reminder_text,omitempty"`
	ReminderInactiveDays int    `json:"reminder_inactive_days,omitempty"`

	CleanupWeekday string `json:"cleanup_weekday,omitempty"` // default "monday"
	CleanupAt      string `json:"cleanup_at,omitempty"`      // default "04:00"
	RetentionDays  int    `json:"retention_days,omitempty"`  // default 30
}

type EventsConfig struct {
	Kafka KafkaConfig `json:"kafka,omitempty"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"`
}
