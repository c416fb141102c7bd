package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Querier is the subset of pgx used by the store; pgxmock satisfies it in
// tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists all agent state in Postgres.
type Store struct {
	pool Querier
}

func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return &Store{pool: pool}
}

// NewWithQuerier wires an arbitrary querier, used by tests.
func NewWithQuerier(q Querier) *Store {
	if q == nil {
		panic("store: querier required")
	}
	return &Store{pool: q}
}

// GetConversation loads one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, contact_id, line_id, status, stage, program_id, assignee_id, updated_at
		FROM conversations
		WHERE id = $1
	`
	var c Conversation
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.ContactID, &c.LineID, &c.Status, &c.Stage, &c.ProgramID, &c.AssigneeID, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	return &c, nil
}

// SetConversationStatus updates the status and bumps updated_at.
func (s *Store) SetConversationStatus(ctx context.Context, id string, status ConversationStatus) error {
	query := `UPDATE conversations SET status = $2, updated_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("store: set conversation status: %w", err)
	}
	return nil
}

// SetConversationStage updates the free-form stage label and bumps updated_at.
func (s *Store) SetConversationStage(ctx context.Context, id, stage string) error {
	query := `UPDATE conversations SET stage = $2, updated_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id, stage); err != nil {
		return fmt.Errorf("store: set conversation stage: %w", err)
	}
	return nil
}

// SetConversationProgram links a program and bumps updated_at.
func (s *Store) SetConversationProgram(ctx context.Context, id, programID string) error {
	query := `UPDATE conversations SET program_id = $2, updated_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id, programID); err != nil {
		return fmt.Errorf("store: set conversation program: %w", err)
	}
	return nil
}

// SetConversationAssignee reassigns the conversation to an operator.
func (s *Store) SetConversationAssignee(ctx context.Context, id, operatorID string) error {
	query := `UPDATE conversations SET assignee_id = $2, updated_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id, operatorID); err != nil {
		return fmt.Errorf("store: set conversation assignee: %w", err)
	}
	return nil
}

// GetContact loads one contact by id.
func (s *Store) GetContact(ctx context.Context, id string) (*Contact, error) {
	query := `
		SELECT id, phone, channel_id, name, name_locked, email, national_id,
		       country, region, city, years_experience, availability,
		       opted_out, opt_out_at, opt_out_reason
		FROM contacts
		WHERE id = $1
	`
	var c Contact
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Phone, &c.ChannelID, &c.Name, &c.NameLocked, &c.Email, &c.NationalID,
		&c.Country, &c.Region, &c.City, &c.YearsExperience, &c.Availability,
		&c.OptedOut, &c.OptOutAt, &c.OptOutReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get contact: %w", err)
	}
	return &c, nil
}

var patchColumns = map[string]string{
	"name":            "name",
	"email":           "email",
	"nationalId":      "national_id",
	"country":         "country",
	"region":          "region",
	"city":            "city",
	"yearsExperience": "years_experience",
	"availability":    "availability",
}

// PatchContact applies a partial profile update. Nil pointer fields are left
// untouched; Clear entries are nulled out.
func (s *Store) PatchContact(ctx context.Context, id string, patch ContactPatch) error {
	if patch.IsZero() {
		return nil
	}

	sets := make([]string, 0, 9)
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.NationalID != nil {
		add("national_id", *patch.NationalID)
	}
	if patch.Country != nil {
		add("country", *patch.Country)
	}
	if patch.Region != nil {
		add("region", *patch.Region)
	}
	if patch.City != nil {
		add("city", *patch.City)
	}
	if patch.YearsExperience != nil {
		add("years_experience", *patch.YearsExperience)
	}
	if patch.Availability != nil {
		add("availability", *patch.Availability)
	}
	for _, field := range patch.Clear {
		col, ok := patchColumns[field]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = NULL", col))
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE contacts SET %s WHERE id = $1", strings.Join(sets, ", "))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("store: patch contact: %w", err)
	}
	return nil
}

// LockContactName marks the contact name as manually entered so later
// model-inferred names are dropped.
func (s *Store) LockContactName(ctx context.Context, id, name string) error {
	query := `UPDATE contacts SET name = $2, name_locked = TRUE WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id, name); err != nil {
		return fmt.Errorf("store: lock contact name: %w", err)
	}
	return nil
}

// SetOptOut sets or clears the do-not-contact flag. The timestamp and reason
// are stamped only when turning the flag on and cleared when turning it off.
func (s *Store) SetOptOut(ctx context.Context, id string, optedOut bool, reason string) error {
	var query string
	var args []any
	if optedOut {
		query = `UPDATE contacts SET opted_out = TRUE, opt_out_at = $2, opt_out_reason = $3 WHERE id = $1`
		args = []any{id, time.Now().UTC(), reason}
	} else {
		query = `UPDATE contacts SET opted_out = FALSE, opt_out_at = NULL, opt_out_reason = NULL WHERE id = $1`
		args = []any{id}
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("store: set opt out: %w", err)
	}
	return nil
}
