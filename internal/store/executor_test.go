package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	chaterrors "github.com/chatdb/chatdb/internal/errors"
)

func TestExecuteReadMaterializesRows(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db)
	diagnosed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT patient_id, name, diagnosed_at FROM patient`)).
		WillReturnRows(sqlmock.NewRows([]string{"patient_id", "name", "diagnosed_at"}).
			AddRow([]byte("p0001"), "Ada", diagnosed).
			AddRow("p0002", nil, nil))

	result, err := executor.ExecuteRead(context.Background(), "SELECT patient_id, name, diagnosed_at FROM patient")
	if err != nil {
		t.Fatalf("ExecuteRead() error = %v", err)
	}
	if result.Len() != 2 {
		t.Fatalf("rows = %d", result.Len())
	}
	if got := strings.Join(result.Columns, ","); got != "patient_id,name,diagnosed_at" {
		t.Fatalf("Columns = %q", got)
	}
	if result.Rows[0][0] != "p0001" {
		t.Fatalf("bytes value = %#v", result.Rows[0][0])
	}
	if result.Rows[0][2] != "2024-03-01T09:30:00Z" {
		t.Fatalf("time value = %#v", result.Rows[0][2])
	}
	if result.Rows[1][1] != nil {
		t.Fatalf("null value = %#v", result.Rows[1][1])
	}
	assertSQLMock(t, mock)
}

func TestExecuteReadEmptyResultIsNotAnError(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db)

	mock.ExpectQuery(`SELECT name FROM disease`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	result, err := executor.ExecuteRead(context.Background(), "SELECT name FROM disease WHERE name ILIKE 'dragon pox'")
	if err != nil {
		t.Fatalf("ExecuteRead() error = %v", err)
	}
	if result.Len() != 0 || result.Serialize() != "[]" {
		t.Fatalf("result = %+v serialized=%q", result, result.Serialize())
	}
	assertSQLMock(t, mock)
}

func TestExecuteReadSurfacesStoreDiagnostic(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db)

	mock.ExpectQuery(`SELECT nope`).WillReturnError(errors.New(`column "nope" does not exist`))

	_, err := executor.ExecuteRead(context.Background(), "SELECT nope FROM disease")
	if chaterrors.KindOf(err) != chaterrors.KindExecution {
		t.Fatalf("kind = %q", chaterrors.KindOf(err))
	}
	if !strings.Contains(err.Error(), `column "nope" does not exist`) {
		t.Fatalf("error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteWriteCommits(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO symptom (symptom_id, name) VALUES ('s042', 'hiccups')`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ack, err := executor.ExecuteWrite(context.Background(), "INSERT INTO symptom (symptom_id, name) VALUES ('s042', 'hiccups')")
	if err != nil {
		t.Fatalf("ExecuteWrite() error = %v", err)
	}
	if ack.RowsAffected != 1 {
		t.Fatalf("RowsAffected = %d", ack.RowsAffected)
	}
	assertSQLMock(t, mock)
}

func TestExecuteWriteRollsBackOnFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM disease`).
		WillReturnError(errors.New(`update or delete on table "disease" violates foreign key constraint`))
	mock.ExpectRollback()

	_, err := executor.ExecuteWrite(context.Background(), "DELETE FROM disease WHERE disease_id = 'd001'")
	if chaterrors.KindOf(err) != chaterrors.KindExecution {
		t.Fatalf("kind = %q, err = %v", chaterrors.KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "violates foreign key constraint") {
		t.Fatalf("error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteWriteReportsCommitFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE patient`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit().WillReturnError(errors.New("could not serialize access"))

	_, err := executor.ExecuteWrite(context.Background(), "UPDATE patient SET name = 'x'")
	if chaterrors.KindOf(err) != chaterrors.KindExecution {
		t.Fatalf("kind = %q", chaterrors.KindOf(err))
	}
	assertSQLMock(t, mock)
}

func TestPreviewKeepsGoingAfterTableError(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "disease" LIMIT 5`)).
		WillReturnRows(sqlmock.NewRows([]string{"disease_id", "name"}).AddRow("d001", "Common Cold"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "patient" LIMIT 5`)).
		WillReturnError(errors.New(`relation "patient" does not exist`))

	previews, err := executor.Preview(context.Background(), []string{"disease", "patient"}, 0)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(previews) != 2 {
		t.Fatalf("previews = %d", len(previews))
	}
	if previews[0].Error != "" || previews[0].Rows.Len() != 1 {
		t.Fatalf("disease preview = %+v", previews[0])
	}
	if !strings.Contains(previews[1].Error, "does not exist") {
		t.Fatalf("patient preview = %+v", previews[1])
	}
	assertSQLMock(t, mock)
}

func TestExecutorWithoutStore(t *testing.T) {
	executor := NewExecutor(nil)
	if _, err := executor.ExecuteRead(context.Background(), "SELECT 1"); chaterrors.KindOf(err) != chaterrors.KindExecution {
		t.Fatalf("ExecuteRead kind = %q", chaterrors.KindOf(err))
	}
	if _, err := executor.ExecuteWrite(context.Background(), "SELECT 1"); chaterrors.KindOf(err) != chaterrors.KindExecution {
		t.Fatalf("ExecuteWrite kind = %q", chaterrors.KindOf(err))
	}
	if err := executor.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check error")
	}
}

func TestDuckDBRoundTrip(t *testing.T) {
	db, err := Open(context.Background(), DBConfig{Driver: DriverDuckDB})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	executor := NewExecutor(db)
	ctx := context.Background()

	if _, err := executor.ExecuteWrite(ctx, "CREATE TABLE symptom (symptom_id VARCHAR PRIMARY KEY, name VARCHAR)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := executor.ExecuteWrite(ctx, "INSERT INTO symptom VALUES ('s001', 'cough'), ('s002', 'sneezing')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := executor.ExecuteWrite(ctx, "INSERT INTO symptom VALUES ('s001', 'duplicate')"); err == nil {
		t.Fatal("expected primary key violation")
	}

	result, err := executor.ExecuteRead(ctx, "SELECT symptom_id, name FROM symptom ORDER BY symptom_id")
	if err != nil {
		t.Fatalf("ExecuteRead() error = %v", err)
	}
	if got := result.Serialize(); got != `[{"symptom_id":"s001","name":"cough"},{"symptom_id":"s002","name":"sneezing"}]` {
		t.Fatalf("Serialize() = %s", got)
	}
	if err := executor.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}

func TestOpenValidatesConfig(t *testing.T) {
	if _, err := Open(context.Background(), DBConfig{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
	if _, err := Open(context.Background(), DBConfig{Driver: "sqlite", DSN: "x"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
