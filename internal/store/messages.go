package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertMessage appends one immutable turn. The id is generated when empty.
func (s *Store) InsertMessage(ctx context.Context, m Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO messages (id, conversation_id, direction, body, transcript, media_type, is_system, visibility, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		m.ID, m.ConversationID, m.Direction, m.Body, m.Transcript, m.MediaType, m.System, m.Visibility, m.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("store: insert message: %w", err)
	}
	return m.ID, nil
}

// RecentMessages returns the most recent limit turns in chronological order,
// excluding system notes.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, conversation_id, direction, body, transcript, media_type, is_system, visibility, created_at
		FROM (
			SELECT id, conversation_id, direction, body, transcript, media_type, is_system, visibility, created_at
			FROM messages
			WHERE conversation_id = $1 AND NOT is_system
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Body, &m.Transcript, &m.MediaType, &m.System, &m.Visibility, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LastInboundAt returns the timestamp of the newest inbound message, or nil
// when the conversation has never received one.
func (s *Store) LastInboundAt(ctx context.Context, conversationID string) (*time.Time, error) {
	query := `
		SELECT created_at
		FROM messages
		WHERE conversation_id = $1 AND direction = 'INBOUND'
		ORDER BY created_at DESC
		LIMIT 1
	`
	var at time.Time
	if err := s.pool.QueryRow(ctx, query, conversationID).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: last inbound at: %w", err)
	}
	return &at, nil
}

// InsertOutboundLog records one send attempt, blocked or not. Every attempt
// must land here before or instead of a transport call.
func (s *Store) InsertOutboundLog(ctx context.Context, e OutboundLogEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO outbound_log (id, conversation_id, dedupe_key, text_hash, blocked_reason, provider_message_id, send_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		e.ID, e.ConversationID, e.DedupeKey, e.TextHash, e.BlockedReason, e.ProviderMessageID, e.SendError, e.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("store: insert outbound log: %w", err)
	}
	return e.ID, nil
}

// RecentOutboundLog returns all attempts newer than since, blocked included;
// the guardrail engine decides which ones count.
func (s *Store) RecentOutboundLog(ctx context.Context, conversationID string, since time.Time) ([]OutboundLogEntry, error) {
	query := `
		SELECT id, conversation_id, dedupe_key, text_hash, blocked_reason, provider_message_id, send_error, created_at
		FROM outbound_log
		WHERE conversation_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, conversationID, since)
	if err != nil {
		return nil, fmt.Errorf("store: recent outbound log: %w", err)
	}
	defer rows.Close()

	var out []OutboundLogEntry
	for rows.Next() {
		var e OutboundLogEntry
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.DedupeKey, &e.TextHash, &e.BlockedReason, &e.ProviderMessageID, &e.SendError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan outbound log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastOutboundHash returns the fingerprint of the newest delivered send, or
// empty when none exists. Blocked and transport-failed attempts never count;
// a message that did not reach the contact must not suppress a resend.
func (s *Store) LastOutboundHash(ctx context.Context, conversationID string) (string, error) {
	query := `
		SELECT text_hash
		FROM outbound_log
		WHERE conversation_id = $1 AND blocked_reason IS NULL AND send_error IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	var hash string
	if err := s.pool.QueryRow(ctx, query, conversationID).Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("store: last outbound hash: %w", err)
	}
	return hash, nil
}

// AskedFields returns the per-field ask counters for a conversation.
func (s *Store) AskedFields(ctx context.Context, conversationID string) (map[string]AskedField, error) {
	query := `
		SELECT conversation_id, field, count, last_asked_at, last_hash
		FROM asked_fields
		WHERE conversation_id = $1
	`
	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: asked fields: %w", err)
	}
	defer rows.Close()

	out := make(map[string]AskedField)
	for rows.Next() {
		var f AskedField
		if err := rows.Scan(&f.ConversationID, &f.Field, &f.Count, &f.LastAskedAt, &f.LastHash); err != nil {
			return nil, fmt.Errorf("store: scan asked field: %w", err)
		}
		out[f.Field] = f
	}
	return out, rows.Err()
}

// IncrementAskedField bumps the counter for one semantic field, recording
// when and with what content it was last asked.
func (s *Store) IncrementAskedField(ctx context.Context, conversationID, field, hash string) error {
	query := `
		INSERT INTO asked_fields (conversation_id, field, count, last_asked_at, last_hash)
		VALUES ($1, $2, 1, now(), $3)
		ON CONFLICT (conversation_id, field)
		DO UPDATE SET count = asked_fields.count + 1, last_asked_at = now(), last_hash = EXCLUDED.last_hash
	`
	if _, err := s.pool.Exec(ctx, query, conversationID, field, hash); err != nil {
		return fmt.Errorf("store: increment asked field: %w", err)
	}
	return nil
}
