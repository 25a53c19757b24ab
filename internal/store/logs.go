package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xiy/petpulse/pkg/types"
)

// TickLog is one bot's outcome within a tick run.
type TickLog struct {
	ID        int64
	RunID     string
	BotID     string
	Posted    bool
	Reason    string
	LocalHour int
	DailyMood string
	Emotion   string
	PostID    string
	Reflected bool
	ErrorText string
	CreatedAt time.Time
}

// MCPRequestLog captures one incoming MCP request handled by the server.
type MCPRequestLog struct {
	ID         int64
	Method     string
	ToolName   string
	Success    bool
	ErrorText  string
	DurationMS int64
	CreatedAt  time.Time
}

// EnqueueMoodEvents queues events for the bot's next tick.
func (s *SQLiteStore) EnqueueMoodEvents(ctx context.Context, botID string, events []types.MoodEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := formatTime(time.Now())
	for _, ev := range events {
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mood_events (bot_id, event_type, occurred_at, created_at) VALUES (?, ?, ?, ?)`,
			botID, string(ev.Type), formatTime(at), created,
		); err != nil {
			return fmt.Errorf("insert mood event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

// PendingMoodEvents returns the bot's queued events in arrival order along
// with the highest queue id read. Events stay queued until CommitTickState
// acknowledges them.
func (s *SQLiteStore) PendingMoodEvents(ctx context.Context, botID string) ([]types.MoodEvent, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, occurred_at FROM mood_events WHERE bot_id = ? ORDER BY id`, botID)
	if err != nil {
		return nil, 0, fmt.Errorf("list mood events: %w", err)
	}
	defer rows.Close()

	var (
		events []types.MoodEvent
		maxID  int64
	)
	for rows.Next() {
		var (
			id       int64
			evType   string
			occurred string
		)
		if err := rows.Scan(&id, &evType, &occurred); err != nil {
			return nil, 0, fmt.Errorf("scan mood event: %w", err)
		}
		maxID = id
		events = append(events, types.MoodEvent{Type: types.MoodEventType(evType), At: parseTime(occurred)})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return events, maxID, nil
}

func (s *SQLiteStore) InsertTickLog(ctx context.Context, rec TickLog) error {
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tick_log (
		run_id, bot_id, posted, reason, local_hour, daily_mood, emotion, post_id, reflected, error_text, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.BotID,
		boolInt(rec.Posted),
		rec.Reason,
		rec.LocalHour,
		rec.DailyMood,
		rec.Emotion,
		rec.PostID,
		boolInt(rec.Reflected),
		strings.TrimSpace(rec.ErrorText),
		formatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("insert tick log: %w", err)
	}
	return nil
}

// RecentTickLogs returns tick rows in newest-first order.
func (s *SQLiteStore) RecentTickLogs(ctx context.Context, limit int) ([]TickLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, run_id, bot_id, posted, reason, local_hour, daily_mood,
       emotion, post_id, reflected, error_text, created_at
FROM tick_log
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tick logs: %w", err)
	}
	defer rows.Close()

	items := make([]TickLog, 0, limit)
	for rows.Next() {
		var (
			row               TickLog
			posted, reflected int
			createdAt         string
		)
		if err := rows.Scan(
			&row.ID,
			&row.RunID,
			&row.BotID,
			&posted,
			&row.Reason,
			&row.LocalHour,
			&row.DailyMood,
			&row.Emotion,
			&row.PostID,
			&reflected,
			&row.ErrorText,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan tick log: %w", err)
		}
		row.Posted = posted == 1
		row.Reflected = reflected == 1
		row.CreatedAt = parseTime(createdAt)
		items = append(items, row)
	}
	return items, rows.Err()
}

// InsertMCPRequestLog stores one request event for admin observability.
func (s *SQLiteStore) InsertMCPRequestLog(ctx context.Context, rec MCPRequestLog) error {
	ts := rec.CreatedAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO mcp_requests (
		method, tool_name, success, error_text, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(rec.Method),
		strings.TrimSpace(rec.ToolName),
		boolInt(rec.Success),
		strings.TrimSpace(rec.ErrorText),
		rec.DurationMS,
		formatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("insert mcp request log: %w", err)
	}
	return nil
}

// RecentMCPRequestLogs returns most recent request events in newest-first order.
func (s *SQLiteStore) RecentMCPRequestLogs(ctx context.Context, limit int) ([]MCPRequestLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, method, tool_name, success, error_text, duration_ms, created_at
FROM mcp_requests
ORDER BY created_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list mcp request logs: %w", err)
	}
	defer rows.Close()

	items := make([]MCPRequestLog, 0, limit)
	for rows.Next() {
		var (
			row            MCPRequestLog
			successAsInt   int
			createdAtValue string
		)
		if err := rows.Scan(
			&row.ID,
			&row.Method,
			&row.ToolName,
			&successAsInt,
			&row.ErrorText,
			&row.DurationMS,
			&createdAtValue,
		); err != nil {
			return nil, fmt.Errorf("scan mcp request log: %w", err)
		}
		row.Success = successAsInt == 1
		row.CreatedAt = parseTime(createdAtValue)
		items = append(items, row)
	}
	return items, rows.Err()
}
