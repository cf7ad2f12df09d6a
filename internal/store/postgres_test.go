package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

func TestPostgresArchiveSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	a := NewPostgresArchiveFromDB(db)

	s := sampleSummary("abc-123", time.Now())
	mock.ExpectExec("INSERT INTO research_sessions").
		WithArgs(s.SessionID, s.Topic, string(s.Status), s.StartTime, s.EndTime, s.Costs.TotalCost, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := a.Save(context.Background(), s); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresArchiveGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	a := NewPostgresArchiveFromDB(db)

	s := sampleSummary("abc-123", time.Now().UTC())
	payload, _ := json.Marshal(s)
	mock.ExpectQuery("SELECT summary FROM research_sessions WHERE session_id").
		WithArgs("abc-123").
		WillReturnRows(sqlmock.NewRows([]string{"summary"}).AddRow(payload))

	got, err := a.Get(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionID != "abc-123" || got.Status != tracker.StatusCompleted {
		t.Fatalf("unexpected summary %+v", got)
	}

	mock.ExpectQuery("SELECT summary FROM research_sessions WHERE session_id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"summary"}))
	if _, err := a.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresArchiveList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	a := NewPostgresArchiveFromDB(db)

	first, _ := json.Marshal(sampleSummary("s2", time.Now()))
	second, _ := json.Marshal(sampleSummary("s1", time.Now().Add(-time.Hour)))
	mock.ExpectQuery("SELECT summary FROM research_sessions ORDER BY started_at DESC").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"summary"}).AddRow(first).AddRow(second))

	list, err := a.List(context.Background(), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != "s2" || list[1].SessionID != "s1" {
		t.Fatalf("unexpected list %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
