// Package events forwards resolved-duel events to external consumers.
// The points/reward service awards win and participation bonuses from this
// feed; the bot itself never touches point balances.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"duelbot/internal/duel"
	logx "duelbot/pkg/logx"
)

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// KafkaSink subscribes to the engine's DuelResolved stream and publishes
// each event as JSON, keyed by duel id so per-duel ordering is preserved
// across partitions. Publish failures are logged and dropped; the duel
// engine never blocks on this path.
type KafkaSink struct {
	cfg    KafkaConfig
	log    logx.Logger
	writer *kafka.Writer

	stopOnce sync.Once
	unsub    func()
	done     chan struct{}
}

func NewKafkaSink(cfg KafkaConfig, log logx.Logger) *KafkaSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  5,
		Compression:  kafka.Snappy,
	}
	return &KafkaSink{cfg: cfg, log: log, writer: w, done: make(chan struct{})}
}

// resolvedPayload is the wire shape; keep it schema-stable for downstream
// consumers.
type resolvedPayload struct {
	DuelID      string    `json:"duel_id"`
	InitiatorID int64     `json:"initiator_id"`
	OpponentID  *int64    `json:"opponent_id,omitempty"`
	Winner      string    `json:"winner,omitempty"`
	Outcome     string    `json:"outcome"`
	VotesA      int       `json:"votes_a"`
	VotesB      int       `json:"votes_b"`
	TotalVotes  int       `json:"total_votes"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Start attaches the sink to the event stream. It owns one goroutine until
// Stop is called or ctx ends. A disabled sink never subscribes; resolved
// events then stay in-process.
func (s *KafkaSink) Start(ctx context.Context, events *duel.Events) {
	if !s.cfg.Enabled {
		close(s.done)
		return
	}
	ch, unsub := events.Subscribe(64)
	s.unsub = unsub

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.publish(ctx, ev)
			}
		}
	}()
	s.log.Info("kafka sink started", logx.String("topic", s.cfg.Topic), logx.Any("brokers", s.cfg.Brokers))
}

func (s *KafkaSink) publish(ctx context.Context, ev duel.ResolvedEvent) {
	payload := resolvedPayload{
		DuelID:      ev.DuelID,
		InitiatorID: ev.InitiatorID,
		OpponentID:  ev.OpponentID,
		Winner:      string(ev.Winner),
		Outcome:     string(ev.Outcome),
		VotesA:      ev.VotesA,
		VotesB:      ev.VotesB,
		TotalVotes:  ev.TotalVotes,
		ResolvedAt:  ev.ResolvedAt,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal resolved event", logx.String("duel", ev.DuelID), logx.Err(err))
		return
	}

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.writer.WriteMessages(wctx, kafka.Message{Key: []byte(ev.DuelID), Value: b}); err != nil {
		s.log.Warn("kafka publish failed", logx.String("duel", ev.DuelID), logx.Err(err))
		return
	}
	s.log.Debug("resolved event published", logx.String("duel", ev.DuelID))
}

// Stop detaches from the stream, waits for the pump to drain and closes the
// writer.
func (s *KafkaSink) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		if s.unsub != nil {
			s.unsub()
		}
		select {
		case <-s.done:
		case <-ctx.Done():
		}
		if err := s.writer.Close(); err != nil {
			s.log.Warn("kafka writer close failed", logx.Err(err))
		}
	})
}
