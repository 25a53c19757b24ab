package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/xiy/petpulse/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when a bot, state row or relationship does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a relationship was changed by someone else
	// between load and save.
	ErrVersionConflict = errors.New("version conflict")
)

// BotState is everything the engine persists per bot between ticks.
type BotState struct {
	Mood      types.MoodState
	Schedule  types.ScheduleState
	Memory    types.BotMemory
	UpdatedAt time.Time
}

// Stats summarizes database counters for admin dashboards.
type Stats struct {
	Bots          int64
	ActiveBots    int64
	Relationships int64
	PendingEvents int64
	Ticks         int64
	PostsToday    int64
}

// Store represents persistence operations used by the orchestrator.
type Store interface {
	UpsertBot(ctx context.Context, b types.Bot) error
	GetBot(ctx context.Context, id string) (types.Bot, error)
	ListBots(ctx context.Context, activeOnly bool) ([]types.Bot, error)

	LoadState(ctx context.Context, botID string) (BotState, error)
	SaveState(ctx context.Context, botID string, st BotState) error
	CommitTickState(ctx context.Context, botID string, st BotState, eventsThrough int64) error

	GetRelationship(ctx context.Context, a, b string) (types.RelationshipData, error)
	SaveRelationship(ctx context.Context, rel types.RelationshipData) (types.RelationshipData, error)
	ListRelationships(ctx context.Context, botID string, limit int) ([]types.RelationshipData, error)
	AppendInteractionMessage(ctx context.Context, msg InteractionMessage) error
	RecentInteractionMessages(ctx context.Context, a, b string, limit int) ([]InteractionMessage, error)

	EnqueueMoodEvents(ctx context.Context, botID string, events []types.MoodEvent) error
	PendingMoodEvents(ctx context.Context, botID string) ([]types.MoodEvent, int64, error)

	InsertTickLog(ctx context.Context, rec TickLog) error
	RecentTickLogs(ctx context.Context, limit int) ([]TickLog, error)

	Stats(ctx context.Context, now time.Time) (Stats, error)
	Close() error
}

// SQLiteStore is a SQLite-backed engine store.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

// OpenSQLite opens and initializes the SQLite store.
func OpenSQLite(ctx context.Context, dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	for _, stmt := range splitSQLStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run schema stmt: %w", err)
		}
	}
	s.logger.Debug("schema ready")
	return nil
}

func splitSQLStatements(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}

func (s *SQLiteStore) UpsertBot(ctx context.Context, b types.Bot) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("validate bot: %w", err)
	}
	now := formatTime(time.Now())
	const q = `INSERT INTO bots (
		id, name, archetype, chronotype, frequency, extraversion, impulsivity,
		utc_offset_hours, active, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		archetype = excluded.archetype,
		chronotype = excluded.chronotype,
		frequency = excluded.frequency,
		extraversion = excluded.extraversion,
		impulsivity = excluded.impulsivity,
		utc_offset_hours = excluded.utc_offset_hours,
		active = excluded.active,
		updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, q,
		b.ID,
		b.Name,
		b.Archetype,
		string(b.Chronotype),
		string(b.Frequency),
		b.Traits.Extraversion,
		b.Traits.Impulsivity,
		b.UTCOffsetHours,
		boolInt(b.Active),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert bot %s: %w", b.ID, err)
	}
	return nil
}

const botColumns = `id, name, archetype, chronotype, frequency, extraversion, impulsivity, utc_offset_hours, active`

func (s *SQLiteStore) GetBot(ctx context.Context, id string) (types.Bot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ? LIMIT 1`, id)
	b, err := scanBot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, fmt.Errorf("bot %s: %w", id, ErrNotFound)
		}
		return b, fmt.Errorf("get bot: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) ListBots(ctx context.Context, activeOnly bool) ([]types.Bot, error) {
	q := `SELECT ` + botColumns + ` FROM bots`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var bots []types.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// LoadState returns ErrNotFound for a bot that has never been ticked.
func (s *SQLiteStore) LoadState(ctx context.Context, botID string) (BotState, error) {
	var (
		st                           BotState
		moodJSON, schedJSON, memJSON string
		updatedAt                    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT mood_json, schedule_json, memory_json, updated_at FROM bot_state WHERE bot_id = ?`, botID,
	).Scan(&moodJSON, &schedJSON, &memJSON, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, fmt.Errorf("state for %s: %w", botID, ErrNotFound)
		}
		return st, fmt.Errorf("load state: %w", err)
	}
	if err := json.Unmarshal([]byte(moodJSON), &st.Mood); err != nil {
		return st, fmt.Errorf("decode mood for %s: %w", botID, err)
	}
	if err := json.Unmarshal([]byte(schedJSON), &st.Schedule); err != nil {
		return st, fmt.Errorf("decode schedule for %s: %w", botID, err)
	}
	if err := json.Unmarshal([]byte(memJSON), &st.Memory); err != nil {
		return st, fmt.Errorf("decode memory for %s: %w", botID, err)
	}
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, botID string, st BotState) error {
	return saveState(ctx, s.db, botID, st)
}

// CommitTickState saves st and acknowledges the bot's queued mood events up
// to and including eventsThrough in one transaction. A zero eventsThrough
// acknowledges nothing.
func (s *SQLiteStore) CommitTickState(ctx context.Context, botID string, st BotState, eventsThrough int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tick commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveState(ctx, tx, botID, st); err != nil {
		return err
	}
	if eventsThrough > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mood_events WHERE bot_id = ? AND id <= ?`, botID, eventsThrough); err != nil {
			return fmt.Errorf("ack mood events: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tick state: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveState(ctx context.Context, db execer, botID string, st BotState) error {
	moodJSON, err := json.Marshal(st.Mood)
	if err != nil {
		return fmt.Errorf("marshal mood: %w", err)
	}
	schedJSON, err := json.Marshal(st.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	memJSON, err := json.Marshal(st.Memory)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	const q = `INSERT INTO bot_state (bot_id, mood_json, schedule_json, memory_json, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(bot_id) DO UPDATE SET
		mood_json = excluded.mood_json,
		schedule_json = excluded.schedule_json,
		memory_json = excluded.memory_json,
		updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, q, botID, string(moodJSON), string(schedJSON), string(memJSON), formatTime(updated)); err != nil {
		return fmt.Errorf("save state for %s: %w", botID, err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	counters := []struct {
		dst  *int64
		q    string
		args []any
	}{
		{&st.Bots, `SELECT count(*) FROM bots`, nil},
		{&st.ActiveBots, `SELECT count(*) FROM bots WHERE active = 1`, nil},
		{&st.Relationships, `SELECT count(*) FROM relationships`, nil},
		{&st.PendingEvents, `SELECT count(*) FROM mood_events`, nil},
		{&st.Ticks, `SELECT count(*) FROM tick_log`, nil},
		{&st.PostsToday, `SELECT count(*) FROM tick_log WHERE posted = 1 AND created_at >= ?`,
			[]any{formatTime(now.UTC().Truncate(24 * time.Hour))}},
	}
	for _, c := range counters {
		if err := s.db.QueryRowContext(ctx, c.q, c.args...).Scan(c.dst); err != nil {
			return st, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBot(sc scanner) (types.Bot, error) {
	var (
		b                     types.Bot
		chronotype, frequency string
		active                int
	)
	err := sc.Scan(
		&b.ID,
		&b.Name,
		&b.Archetype,
		&chronotype,
		&frequency,
		&b.Traits.Extraversion,
		&b.Traits.Impulsivity,
		&b.UTCOffsetHours,
		&active,
	)
	if err != nil {
		return b, err
	}
	b.Chronotype = types.Chronotype(chronotype)
	b.Frequency = types.Frequency(frequency)
	b.Active = active == 1
	return b, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
