package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	chaterrors "github.com/chatdb/chatdb/internal/errors"
)

// CommitAck acknowledges a committed write.
type CommitAck struct {
	RowsAffected int64 `json:"rows_affected"`
}

type TablePreview struct {
	Table string    `json:"table"`
	Rows  ResultSet `json:"rows"`
	Error string    `json:"error,omitempty"`
}

// Executor runs generated SQL verbatim against the records store.
type Executor struct {
	db *sql.DB
}

func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// ExecuteRead runs sqlText and materializes every row.
func (e *Executor) ExecuteRead(ctx context.Context, sqlText string) (ResultSet, error) {
	if e.db == nil {
		return ResultSet{}, chaterrors.New(chaterrors.KindExecution, "store is not configured")
	}
	result, err := queryRows(ctx, e.db, sqlText)
	if err != nil {
		return ResultSet{}, chaterrors.Wrap(chaterrors.KindExecution, "run statement", err)
	}
	return result, nil
}

// ExecuteWrite runs sqlText inside a transaction. Any failure rolls the
// transaction back before returning.
func (e *Executor) ExecuteWrite(ctx context.Context, sqlText string) (CommitAck, error) {
	if e.db == nil {
		return CommitAck{}, chaterrors.New(chaterrors.KindExecution, "store is not configured")
	}

	var ack CommitAck
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlText)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = -1
		}
		ack.RowsAffected = affected
		return nil
	})
	if err != nil {
		return CommitAck{}, chaterrors.Wrap(chaterrors.KindExecution, "run statement", err)
	}
	return ack, nil
}

// Preview returns up to limit rows from each table. A failing table records
// its error and does not stop the others.
func (e *Executor) Preview(ctx context.Context, tables []string, limit int) ([]TablePreview, error) {
	if e.db == nil {
		return nil, chaterrors.New(chaterrors.KindExecution, "store is not configured")
	}
	if limit <= 0 {
		limit = 5
	}
	previews := make([]TablePreview, 0, len(tables))
	for _, table := range tables {
		preview := TablePreview{Table: table}
		rows, err := queryRows(ctx, e.db, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), limit))
		if err != nil {
			preview.Error = err.Error()
		} else {
			preview.Rows = rows
		}
		previews = append(previews, preview)
	}
	return previews, nil
}

func (e *Executor) HealthCheck(ctx context.Context) error {
	if e.db == nil {
		return fmt.Errorf("store is not configured")
	}
	return e.db.PingContext(ctx)
}

func (e *Executor) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rollbackErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryRows(ctx context.Context, q queryer, sqlText string) (ResultSet, error) {
	rows, err := q.QueryContext(ctx, sqlText)
	if err != nil {
		return ResultSet{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("query columns: %w", err)
	}

	result := ResultSet{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return ResultSet{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.UTC().Format(time.RFC3339)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
