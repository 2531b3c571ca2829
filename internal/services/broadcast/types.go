package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"duelbot/internal/storage"
	kit "duelbot/internal/transport"
	logx "duelbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Workers int
	// SendDelay is the fixed inter-message delay applied between sends
	// regardless of outcome; it keeps steady-state throughput under the
	// transport limit independent of burst handling.
	SendDelay time.Duration
	// StatusTTL/StatusMax bound the in-memory job status map.
	StatusTTL time.Duration
	StatusMax int
}

const (
	defaultWorkers   = 2
	defaultSendDelay = 100 * time.Millisecond
	defaultStatusTTL = 24 * time.Hour
	defaultStatusMax = 200
)

// Report aggregates one fan-out. Send always returns it; per-target
// failures never abort the loop.
type Report struct {
	Sent               int
	Failed             int
	RateLimitedRetries int
}

type job struct {
	id      string
	name    string
	text    string
	targets []storage.BroadcastTarget
	opt     *kit.SendOptions
}

type JobStatus struct {
	ID        string
	Name      string
	Total     int
	Report    Report
	Running   bool
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
}

type Service struct {
	mu sync.Mutex

	cfg      Config
	notifier kit.Notifier
	store    storage.Store
	log      logx.Logger

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when
	// workers fully exit.
	stopDone chan struct{}

	statusMu sync.Mutex
	status   map[string]*JobStatus

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
