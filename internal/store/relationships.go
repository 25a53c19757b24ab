package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xiy/petpulse/pkg/types"
)

// InteractionMessage is one exchanged message kept for relationship prompts.
type InteractionMessage struct {
	ID        int64
	PetIDA    string
	PetIDB    string
	Actor     string
	Type      types.InteractionType
	Message   string
	CreatedAt time.Time
}

const relationshipColumns = `pet_id_a, pet_id_b, sentiment, sentiment_score, interaction_count,
	last_interaction_type, last_interaction_at, version`

// GetRelationship expects a and b already in canonical order.
func (s *SQLiteStore) GetRelationship(ctx context.Context, a, b string) (types.RelationshipData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE pet_id_a = ? AND pet_id_b = ?`, a, b)
	rel, err := scanRelationship(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rel, fmt.Errorf("relationship %s:%s: %w", a, b, ErrNotFound)
		}
		return rel, fmt.Errorf("get relationship: %w", err)
	}
	return rel, nil
}

// SaveRelationship writes rel if nobody else has changed the row since it was
// loaded. A zero Version means the caller saw no row. On success the returned
// copy carries the new version; a lost race yields ErrVersionConflict.
func (s *SQLiteStore) SaveRelationship(ctx context.Context, rel types.RelationshipData) (types.RelationshipData, error) {
	if rel.PetIDA == "" || rel.PetIDB == "" || rel.PetIDA >= rel.PetIDB {
		return rel, fmt.Errorf("save relationship: pair %q,%q is not canonical", rel.PetIDA, rel.PetIDB)
	}

	var (
		res sql.Result
		err error
	)
	if rel.Version == 0 {
		res, err = s.db.ExecContext(ctx, `INSERT INTO relationships (`+relationshipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(pet_id_a, pet_id_b) DO NOTHING`,
			rel.PetIDA,
			rel.PetIDB,
			string(rel.Sentiment),
			rel.SentimentScore,
			rel.InteractionCount,
			string(rel.LastInteractionType),
			formatTime(rel.LastInteractionAt),
		)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE relationships SET
			sentiment = ?,
			sentiment_score = ?,
			interaction_count = ?,
			last_interaction_type = ?,
			last_interaction_at = ?,
			version = version + 1
		WHERE pet_id_a = ? AND pet_id_b = ? AND version = ?`,
			string(rel.Sentiment),
			rel.SentimentScore,
			rel.InteractionCount,
			string(rel.LastInteractionType),
			formatTime(rel.LastInteractionAt),
			rel.PetIDA,
			rel.PetIDB,
			rel.Version,
		)
	}
	if err != nil {
		return rel, fmt.Errorf("save relationship: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return rel, fmt.Errorf("save relationship rows affected: %w", err)
	}
	if n == 0 {
		return rel, fmt.Errorf("relationship %s:%s at version %d: %w", rel.PetIDA, rel.PetIDB, rel.Version, ErrVersionConflict)
	}
	rel.Version++
	return rel, nil
}

// ListRelationships returns every relationship involving botID, most recent first.
func (s *SQLiteStore) ListRelationships(ctx context.Context, botID string, limit int) ([]types.RelationshipData, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + relationshipColumns + ` FROM relationships`
	args := []any{}
	if botID = strings.TrimSpace(botID); botID != "" {
		q += ` WHERE pet_id_a = ? OR pet_id_b = ?`
		args = append(args, botID, botID)
	}
	q += ` ORDER BY last_interaction_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	items := make([]types.RelationshipData, 0, limit)
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		items = append(items, rel)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) AppendInteractionMessage(ctx context.Context, msg InteractionMessage) error {
	if strings.TrimSpace(msg.Message) == "" {
		return nil
	}
	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO interaction_messages (
		pet_id_a, pet_id_b, actor, interaction_type, message, created_at
	) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.PetIDA,
		msg.PetIDB,
		msg.Actor,
		string(msg.Type),
		strings.TrimSpace(msg.Message),
		formatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("insert interaction message: %w", err)
	}
	return nil
}

// RecentInteractionMessages returns the newest messages for a canonical pair, newest first.
func (s *SQLiteStore) RecentInteractionMessages(ctx context.Context, a, b string, limit int) ([]InteractionMessage, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, pet_id_a, pet_id_b, actor, interaction_type, message, created_at
FROM interaction_messages
WHERE pet_id_a = ? AND pet_id_b = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, a, b, limit)
	if err != nil {
		return nil, fmt.Errorf("list interaction messages: %w", err)
	}
	defer rows.Close()

	items := make([]InteractionMessage, 0, limit)
	for rows.Next() {
		var (
			m         InteractionMessage
			itype     string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.PetIDA, &m.PetIDB, &m.Actor, &itype, &m.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan interaction message: %w", err)
		}
		m.Type = types.InteractionType(itype)
		m.CreatedAt = parseTime(createdAt)
		items = append(items, m)
	}
	return items, rows.Err()
}

func scanRelationship(sc scanner) (types.RelationshipData, error) {
	var (
		rel                         types.RelationshipData
		sentiment, itype, lastAtStr string
	)
	err := sc.Scan(
		&rel.PetIDA,
		&rel.PetIDB,
		&sentiment,
		&rel.SentimentScore,
		&rel.InteractionCount,
		&itype,
		&lastAtStr,
		&rel.Version,
	)
	if err != nil {
		return rel, err
	}
	rel.Sentiment = types.Sentiment(sentiment)
	rel.LastInteractionType = types.InteractionType(itype)
	rel.LastInteractionAt = parseTime(lastAtStr)
	return rel, nil
}
