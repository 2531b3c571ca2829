package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "duelbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const duelColumns = `id, side_a_content_id, side_b_content_id, initiator_id, opponent_id,
	status, votes_a, votes_b, total_votes, winner, voting_ends_at, created_at, resolved_at`

func (s *sqliteStore) CreateDuel(ctx context.Context, d Duel) error {
	var opponent sql.NullInt64
	if d.OpponentID != nil {
		opponent = sql.NullInt64{Int64: *d.OpponentID, Valid: true}
	}
	var resolved sql.NullInt64
	if d.ResolvedAt != nil {
		resolved = sql.NullInt64{Int64: d.ResolvedAt.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO duel(`+duelColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.SideAContentID, d.SideBContentID, d.InitiatorID, opponent,
		string(d.Status), d.VotesA, d.VotesB, d.TotalVotes, string(d.Winner),
		d.VotingEndsAt.UnixMilli(), d.CreatedAt.UnixMilli(), resolved,
	)
	return err
}

func (s *sqliteStore) GetDuel(ctx context.Context, id string) (Duel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+duelColumns+` FROM duel WHERE id = ?`, id)
	return scanDuel(row)
}

func (s *sqliteStore) ListActiveDuelsExpiringBefore(ctx context.Context, ts time.Time) ([]Duel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+duelColumns+` FROM duel WHERE status = 'active' AND voting_ends_at <= ? ORDER BY voting_ends_at`,
		ts.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Duel
	for rows.Next() {
		d, err := scanDuel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) HasActiveDuelByInitiator(ctx context.Context, initiatorID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM duel WHERE initiator_id = ? AND status = 'active' LIMIT 1`, initiatorID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) InsertVoteAtomic(ctx context.Context, duelID string, voterID int64, side Side, at time.Time) (int, int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Liveness is re-checked inside the transaction so a concurrent sweep
	// cannot let a vote land on a duel that just went terminal.
	var status string
	var endsAt int64
	err = tx.QueryRowContext(ctx, `SELECT status, voting_ends_at FROM duel WHERE id = ?`, duelID).
		Scan(&status, &endsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, 0, err
	}
	if Status(status) != StatusActive || !at.Before(time.UnixMilli(endsAt)) {
		return 0, 0, 0, ErrVotingClosed
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO duel_vote(duel_id, voter_id, side, created_at) VALUES(?,?,?,?)`,
		duelID, voterID, string(side), at.UnixMilli(),
	)
	if err != nil {
		if isConstraintErr(err) {
			return 0, 0, 0, ErrAlreadyVoted
		}
		return 0, 0, 0, err
	}

	col := "votes_a"
	if side == SideB {
		col = "votes_b"
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE duel SET `+col+` = `+col+` + 1, total_votes = total_votes + 1 WHERE id = ?`, duelID)
	if err != nil {
		return 0, 0, 0, err
	}

	var a, b, total int
	if err := tx.QueryRowContext(ctx,
		`SELECT votes_a, votes_b, total_votes FROM duel WHERE id = ?`, duelID).Scan(&a, &b, &total); err != nil {
		return 0, 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, 0, err
	}
	return a, b, total, nil
}

func (s *sqliteStore) SetDuelTerminal(ctx context.Context, duelID string, resolvedAt time.Time, decide func(Duel) (Status, Winner)) (Duel, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Duel{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	d, err := scanDuel(tx.QueryRowContext(ctx, `SELECT `+duelColumns+` FROM duel WHERE id = ?`, duelID))
	if err != nil {
		return Duel{}, false, err
	}
	if d.Status != StatusActive {
		// Terminal already; the stored result wins.
		return d, false, nil
	}

	status, winner := decide(d)
	// The status guard makes the transition idempotent: at most one caller
	// ever flips a duel out of active.
	res, err := tx.ExecContext(ctx,
		`UPDATE duel SET status = ?, winner = ?, resolved_at = ? WHERE id = ? AND status = 'active'`,
		string(status), string(winner), resolvedAt.UnixMilli(), duelID,
	)
	if err != nil {
		return Duel{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Duel{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Duel{}, false, err
	}
	d.Status = status
	d.Winner = winner
	rt := resolvedAt
	d.ResolvedAt = &rt
	return d, n > 0, nil
}

func (s *sqliteStore) ListBroadcastTargets(ctx context.Context, f TargetFilter) ([]BroadcastTarget, error) {
	q := `SELECT user_id, last_active_at, subscribed, inactive FROM broadcast_target WHERE inactive = 0`
	args := []any{}
	if f.Subscribed != nil {
		q += ` AND subscribed = ?`
		if *f.Subscribed {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if !f.ActiveAfter.IsZero() {
		q += ` AND last_active_at >= ?`
		args = append(args, f.ActiveAfter.UnixMilli())
	}
	if !f.ActiveBefore.IsZero() {
		q += ` AND last_active_at < ?`
		args = append(args, f.ActiveBefore.UnixMilli())
	}
	q += ` ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BroadcastTarget
	for rows.Next() {
		var t BroadcastTarget
		var lastActive int64
		var subscribed, inactive int
		if err := rows.Scan(&t.UserID, &lastActive, &subscribed, &inactive); err != nil {
			return nil, err
		}
		t.LastActiveAt = time.UnixMilli(lastActive)
		t.Subscribed = subscribed != 0
		t.Inactive = inactive != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertBroadcastTarget(ctx context.Context, t BroadcastTarget) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_target(user_id, last_active_at, subscribed, inactive) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   last_active_at = excluded.last_active_at,
		   subscribed = excluded.subscribed,
		   inactive = excluded.inactive`,
		t.UserID, t.LastActiveAt.UnixMilli(), b2i(t.Subscribed), b2i(t.Inactive),
	)
	return err
}

func (s *sqliteStore) TouchUserActivity(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_target(user_id, last_active_at) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET last_active_at = excluded.last_active_at, inactive = 0`,
		userID, at.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) MarkUserInactive(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE broadcast_target SET inactive = 1 WHERE user_id = ?`, userID)
	return err
}

func (s *sqliteStore) DuelStats(ctx context.Context, since time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COUNT(CASE WHEN status = 'completed' THEN 1 END),
		   COUNT(CASE WHEN status = 'cancelled' THEN 1 END),
		   COALESCE(SUM(total_votes), 0)
		 FROM duel WHERE resolved_at IS NOT NULL AND resolved_at >= ?`,
		since.UnixMilli(),
	).Scan(&st.Completed, &st.Cancelled, &st.Votes)
	return st, err
}

func (s *sqliteStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	ms := cutoff.UnixMilli()
	votesRes, err := tx.ExecContext(ctx,
		`DELETE FROM duel_vote WHERE duel_id IN
		   (SELECT id FROM duel WHERE status != 'active' AND resolved_at IS NOT NULL AND resolved_at < ?)`, ms)
	if err != nil {
		return 0, 0, err
	}
	duelsRes, err := tx.ExecContext(ctx,
		`DELETE FROM duel WHERE status != 'active' AND resolved_at IS NOT NULL AND resolved_at < ?`, ms)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	votes, _ := votesRes.RowsAffected()
	duels, _ := duelsRes.RowsAffected()
	return duels, votes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDuel(row rowScanner) (Duel, error) {
	var d Duel
	var opponent, resolved sql.NullInt64
	var status, winner string
	var endsAt, createdAt int64
	err := row.Scan(
		&d.ID, &d.SideAContentID, &d.SideBContentID, &d.InitiatorID, &opponent,
		&status, &d.VotesA, &d.VotesB, &d.TotalVotes, &winner,
		&endsAt, &createdAt, &resolved,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Duel{}, ErrNotFound
	}
	if err != nil {
		return Duel{}, err
	}
	d.Status = Status(status)
	d.Winner = Winner(winner)
	d.VotingEndsAt = time.UnixMilli(endsAt)
	d.CreatedAt = time.UnixMilli(createdAt)
	if opponent.Valid {
		v := opponent.Int64
		d.OpponentID = &v
	}
	if resolved.Valid {
		t := time.UnixMilli(resolved.Int64)
		d.ResolvedAt = &t
	}
	return d, nil
}

// isConstraintErr matches unique/primary-key violations without binding to
// driver-internal error types.
func isConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "constraint")
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}
