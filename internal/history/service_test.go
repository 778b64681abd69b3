package history

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecordInsertsAndBumpsDailySummary(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	svc := NewService(db)
	svc.clock = fixedClock(now)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO call_records`).
		WithArgs(sqlmock.AnyArg(), "ws-1", "c1", "inbound", "9990001111", "ended",
			now.Add(-90*time.Second), now, 90, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO call_daily_summaries`).
		WithArgs("ws-1", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), 1, 0, 0, 90).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = svc.Record(context.Background(), CallRecord{
		WorkspaceID:  "ws-1",
		CallID:       "c1",
		Direction:    "inbound",
		Counterparty: "9990001111",
		Outcome:      "ended",
		StartedAt:    now.Add(-90 * time.Second),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordMissedCountsInRollup(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := NewService(db)
	svc.clock = fixedClock(now)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO call_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO call_daily_summaries`).
		WithArgs("ws-1", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), 1, 0, 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = svc.Record(context.Background(), CallRecord{
		WorkspaceID:  "ws-1",
		Direction:    "inbound",
		Counterparty: "9990001111",
		Outcome:      "missed",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordRollsBackWhenSummaryFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	svc := NewService(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO call_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO call_daily_summaries`).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	err = svc.Record(context.Background(), CallRecord{
		WorkspaceID: "ws-1",
		Direction:   "outbound",
		Outcome:     "ended",
	})
	if err == nil {
		t.Fatalf("expected error from failed summary bump")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordRejectsIncompleteRecords(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	svc := NewService(db)

	cases := []CallRecord{
		{Direction: "inbound", Outcome: "ended"},
		{WorkspaceID: "ws-1", Outcome: "ended"},
		{WorkspaceID: "ws-1", Direction: "inbound"},
	}
	for _, rec := range cases {
		if err := svc.Record(context.Background(), rec); err != ErrInvalidRecord {
			t.Fatalf("expected ErrInvalidRecord for %+v, got %v", rec, err)
		}
	}
}

func TestListRecentScansRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "workspace_id", "call_id", "direction", "counterparty", "outcome",
		"started_at", "ended_at", "duration", "created_at",
	}).AddRow("r1", "ws-1", "c1", "inbound", "9990001111", "ended", now.Add(-time.Minute), now, 60, now)

	mock.ExpectQuery(`SELECT .+ FROM call_records`).
		WithArgs("ws-1", 50).
		WillReturnRows(rows)

	svc := NewService(db)
	got, err := svc.ListRecent(context.Background(), "ws-1", 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 1 || got[0].CallID != "c1" || got[0].DurationSeconds != 60 {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestSummaryZeroForEmptyDay(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM call_daily_summaries`).
		WillReturnRows(sqlmock.NewRows([]string{
			"workspace_id", "day", "total_calls", "inbound_calls", "outbound_calls", "missed_calls", "total_duration_seconds",
		}))

	svc := NewService(db)
	sum, err := svc.Summary(context.Background(), "ws-1", time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCalls != 0 || sum.WorkspaceID != "ws-1" {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}
