package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewWithQuerier(mock), mock
}

func TestGetConversation(t *testing.T) {
	st, mock := newMockStore(t)
	program := "prog-1"
	mock.ExpectQuery("SELECT id, contact_id, line_id").
		WithArgs("conv-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "contact_id", "line_id", "status", "stage", "program_id", "assignee_id", "updated_at"}).
			AddRow("conv-1", "contact-1", "line-1", StatusOpen, "screening", &program, (*string)(nil), time.Now()))

	conv, err := st.GetConversation(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.Status != StatusOpen || conv.ProgramID == nil || *conv.ProgramID != "prog-1" {
		t.Fatalf("conv = %+v", conv)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, contact_id, line_id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := st.GetConversation(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPatchContactBuildsDynamicSet(t *testing.T) {
	st, mock := newMockStore(t)
	name := "Ana López"
	city := "Luque"
	mock.ExpectExec(`UPDATE contacts SET name = \$2, city = \$3, email = NULL WHERE id = \$1`).
		WithArgs("contact-1", name, city).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.PatchContact(context.Background(), "contact-1", ContactPatch{
		Name:  &name,
		City:  &city,
		Clear: []string{"email"},
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPatchContactZeroPatchIsNoop(t *testing.T) {
	st, mock := newMockStore(t)
	if err := st.PatchContact(context.Background(), "contact-1", ContactPatch{}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	// No expectations registered: any query would fail the mock.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPatchContactIgnoresUnknownClearField(t *testing.T) {
	st, mock := newMockStore(t)
	if err := st.PatchContact(context.Background(), "contact-1", ContactPatch{Clear: []string{"salary"}}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetOptOut(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE contacts SET opted_out = TRUE").
		WithArgs("contact-1", pgxmock.AnyArg(), "keyword: baja").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := st.SetOptOut(context.Background(), "contact-1", true, "keyword: baja"); err != nil {
		t.Fatalf("set opt out: %v", err)
	}

	mock.ExpectExec("UPDATE contacts SET opted_out = FALSE").
		WithArgs("contact-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := st.SetOptOut(context.Background(), "contact-1", false, ""); err != nil {
		t.Fatalf("clear opt out: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertMessageGeneratesID(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), "conv-1", DirectionInbound, "hola", (*string)(nil), (*string)(nil), false, (*string)(nil), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := st.InsertMessage(context.Background(), Message{
		ConversationID: "conv-1",
		Direction:      DirectionInbound,
		Body:           "hola",
	})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRecentOutboundLogScan(t *testing.T) {
	st, mock := newMockStore(t)
	blocked := "DUPLICATE_INTENT"
	pmid := "wamid-1"
	since := time.Now().Add(-2 * time.Minute)
	mock.ExpectQuery("SELECT id, conversation_id, dedupe_key").
		WithArgs("conv-1", since).
		WillReturnRows(pgxmock.NewRows([]string{"id", "conversation_id", "dedupe_key", "text_hash", "blocked_reason", "provider_message_id", "send_error", "created_at"}).
			AddRow("log-1", "conv-1", "k1", "hash1", (*string)(nil), &pmid, (*string)(nil), time.Now()).
			AddRow("log-2", "conv-1", "k2", "hash2", &blocked, (*string)(nil), (*string)(nil), time.Now()))

	entries, err := st.RecentOutboundLog(context.Background(), "conv-1", since)
	if err != nil {
		t.Fatalf("recent outbound: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].BlockedReason != nil || entries[1].BlockedReason == nil {
		t.Fatalf("blocked flags wrong: %+v", entries)
	}
}

func TestLastOutboundHashEmptyWhenNone(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT text_hash").
		WithArgs("conv-1").
		WillReturnError(pgx.ErrNoRows)

	hash, err := st.LastOutboundHash(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("last hash: %v", err)
	}
	if hash != "" {
		t.Fatalf("hash = %q, want empty", hash)
	}
}

func TestLastOutboundHashCountsOnlyDeliveredSends(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("blocked_reason IS NULL AND send_error IS NULL").
		WithArgs("conv-1").
		WillReturnRows(pgxmock.NewRows([]string{"text_hash"}).AddRow("hash-delivered"))

	hash, err := st.LastOutboundHash(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("last hash: %v", err)
	}
	if hash != "hash-delivered" {
		t.Fatalf("hash = %q, want hash-delivered", hash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIncrementAskedFieldUpsert(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO asked_fields").
		WithArgs("conv-1", "email", "hash1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := st.IncrementAskedField(context.Background(), "conv-1", "email", "hash1"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateAgentRun(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE agent_runs").
		WithArgs("run-1", RunError, pgxmock.AnyArg(), pgxmock.AnyArg(), "raw output", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.UpdateAgentRun(context.Background(), "run-1", AgentRunUpdate{
		Status:        RunError,
		LastRawOutput: "raw output",
		Issues:        []byte(`[{"path":"$","message":"bad"}]`),
	})
	if err != nil {
		t.Fatalf("update run: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListEnabledRules(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name, trigger").
		WithArgs("message_received").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "trigger", "line_id", "program_id", "priority", "enabled", "conditions", "actions", "created_at"}).
			AddRow("rule-1", "qualify", "message_received", (*string)(nil), (*string)(nil), 10, true, json.RawMessage(`[]`), json.RawMessage(`[]`), time.Now()))

	rules, err := st.ListEnabledRules(context.Background(), "message_received")
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Priority != 10 {
		t.Fatalf("rules = %+v", rules)
	}
}
