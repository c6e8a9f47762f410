package sessions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/haasonsaas/teller/pkg/models"
)

// setupMockDB creates a Postgres-dialect store over a mock database.
func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db, DialectPostgres)
	store.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return db, mock, store
}

func TestDialectRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		query   string
		want    string
	}{
		{DialectPostgres, "SELECT $1, $2", "SELECT $1, $2"},
		{DialectSQLite, "SELECT $1, $2", "SELECT ?, ?"},
		{DialectSQLite, "VALUES ($1, $10, $11)", "VALUES (?, ?, ?)"},
		{DialectSQLite, "SELECT '$' || name", "SELECT '$' || name"},
	}
	for _, tt := range tests {
		if got := tt.dialect.rebind(tt.query); got != tt.want {
			t.Errorf("%s rebind(%q) = %q, want %q", tt.dialect, tt.query, got, tt.want)
		}
	}
}

func TestSQLStore_LoadNotFound(t *testing.T) {
	_, mock, store := setupMockDB(t)

	mock.ExpectQuery("SELECT updated_at FROM conversations").
		WithArgs("c1").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Load(context.Background(), "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_Load(t *testing.T) {
	_, mock, store := setupMockDB(t)
	now := time.Now()

	mock.ExpectQuery("SELECT updated_at FROM conversations").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectQuery("SELECT id, kind, content, tool_calls, tool_call_id, tool_name, is_error, created_at").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "content", "tool_calls", "tool_call_id", "tool_name", "is_error", "created_at"}).
			AddRow("m1", "user_text", "hi", nil, nil, nil, false, now).
			AddRow("m2", "assistant_tool_request", "", `[{"id":"call_1","name":"rag_search","input":{}}]`, nil, nil, false, now).
			AddRow("m3", "tool_result", "ok", nil, "call_1", "rag_search", false, now))

	conv, err := store.Load(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(conv.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(conv.Messages))
	}
	req, ok := conv.Messages[1].(*models.AssistantToolRequest)
	if !ok || len(req.Calls) != 1 || req.Calls[0].Name != "rag_search" {
		t.Errorf("Messages[1] = %#v", conv.Messages[1])
	}
	res, ok := conv.Messages[2].(*models.ToolResult)
	if !ok || res.CallID != "call_1" {
		t.Errorf("Messages[2] = %#v", conv.Messages[2])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_Append(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name: "successful append",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO conversations").
					WithArgs("c1", sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT COALESCE\\(MAX\\(seq\\), 0\\) FROM messages").
					WithArgs("c1").
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))
				mock.ExpectExec("INSERT INTO messages").
					WithArgs("c1", int64(5), "m5", "user_text", "hello", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), false, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "insert failure rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO conversations").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT COALESCE").
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
				mock.ExpectExec("INSERT INTO messages").
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, store := setupMockDB(t)
			tt.setupMock(mock)

			err := store.Append(context.Background(), "c1", &models.UserText{ID: "m5", Text: "hello"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Append() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSQLStore_SetInterruptPending(t *testing.T) {
	_, mock, store := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO interrupts").
		WithArgs("c1", "int-2", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.SetInterrupt(context.Background(), &models.Interrupt{ID: "int-2", ConversationID: "c1"})
	if !errors.Is(err, ErrInterruptPending) {
		t.Fatalf("SetInterrupt() error = %v, want ErrInterruptPending", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_ResolveInterrupt(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "nothing pending",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("DELETE FROM interrupts").
					WithArgs("c1").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectRollback()
			},
			wantErr: ErrNotFound,
		},
		{
			name: "different interrupt",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("DELETE FROM interrupts").
					WithArgs("c1").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("int-9"))
				mock.ExpectRollback()
			},
			wantErr: ErrInterruptMismatch,
		},
		{
			name: "resolved",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("DELETE FROM interrupts").
					WithArgs("c1").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("int-1"))
				mock.ExpectExec("INSERT INTO conversations").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT COALESCE").
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2))
				mock.ExpectExec("INSERT INTO messages").
					WithArgs("c1", int64(3), "r1", "tool_result", "rejected", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), true, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, store := setupMockDB(t)
			tt.setupMock(mock)

			result := &models.ToolResult{ID: "r1", CallID: "call_1", ToolName: "open_deposit", Content: "rejected", IsError: true}
			err := store.ResolveInterrupt(context.Background(), "c1", "int-1", result)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ResolveInterrupt() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("ResolveInterrupt() error = %v, want %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}
