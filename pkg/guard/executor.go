package guard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Execution errors. Raw store errors are logged, never returned to callers
// that might show them to a user.
var (
	ErrTimedOut  = errors.New("query timed out")
	ErrExecution = errors.New("query execution failed")
)

// pgQueryCanceled is the SQLSTATE raised when statement_timeout fires.
const pgQueryCanceled = "57014"

const (
	defaultExecTimeout = 30 * time.Second
	defaultMaxRows     = 500
)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Timeout time.Duration
	MaxRows int
}

// Result is the output of an accepted query.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated,omitempty"`
}

// Executor runs checked queries inside read-only transactions.
type Executor struct {
	db      *sql.DB
	timeout time.Duration
	maxRows int
}

// NewExecutor creates an executor.
func NewExecutor(db *sql.DB, cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultExecTimeout
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return &Executor{db: db, timeout: cfg.Timeout, maxRows: cfg.MaxRows}
}

// Run executes q. A nil q is rejected without touching the store.
func (e *Executor) Run(ctx context.Context, q *Checked) (*Result, error) {
	if q == nil {
		return nil, reject(RuleEmpty, "query was not checked")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.db.BeginTx(runCtx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, e.classify(runCtx, "beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(runCtx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.timeout.Milliseconds())); err != nil {
		return nil, e.classify(runCtx, "setting statement timeout", err)
	}

	rows, err := tx.QueryContext(runCtx, q.SQL)
	if err != nil {
		return nil, e.classify(runCtx, "running query", err)
	}
	defer func() { _ = rows.Close() }()

	result, err := e.collect(rows)
	if err != nil {
		return nil, e.classify(runCtx, "reading rows", err)
	}
	return result, nil
}

func (e *Executor) collect(rows *sql.Rows) (*Result, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	result := &Result{Columns: make([]string, len(cols)), Rows: make([]map[string]any, 0)}
	for i, c := range cols {
		result.Columns[i] = c.Name()
	}

	for rows.Next() {
		if len(result.Rows) == e.maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[result.Columns[i]] = convertValue(c.DatabaseTypeName(), values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// convertValue maps driver values to JSON-friendly ones. NUMERIC becomes a
// JSON number without passing through float64.
func convertValue(dbType string, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return convertText(dbType, string(val))
	case string:
		return convertText(dbType, val)
	case time.Time:
		switch strings.ToUpper(dbType) {
		case "TIMESTAMP", "TIMESTAMPTZ":
			return val.UTC().Format(time.RFC3339)
		default:
			return val.Format(time.DateOnly)
		}
	default:
		return val
	}
}

func convertText(dbType, s string) any {
	if strings.ToUpper(dbType) != "NUMERIC" {
		return s
	}
	if _, err := decimal.NewFromString(s); err != nil {
		return s
	}
	return json.Number(s)
}

// classify logs the raw error and returns a sentinel safe to surface.
func (*Executor) classify(ctx context.Context, op string, err error) error {
	var pqErr *pq.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &pqErr) && string(pqErr.Code) == pgQueryCanceled)
	if timedOut {
		slog.Warn("guarded query timed out", "op", op, "error", err)
		return fmt.Errorf("%s: %w", op, ErrTimedOut)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	slog.Error("guarded query failed", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, ErrExecution)
}
