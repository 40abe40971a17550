// Package sqlquery implements the sql operation: prepared statements
// against a SQL database, optionally grouped in one transaction, with
// rows decoded to JSON-friendly values.
package sqlquery

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

// Name is the registry name of the operation.
const Name = "sql"

const defaultTimeout = 30 * time.Second

type statement struct {
	query string
	args  []any
}

// Op executes one or more statements per run. Binds are positional
// ($1.. for postgres); every statement is prepared.
type Op struct {
	operation.Base

	driver     string
	connStr    string
	statements []statement
	tx         bool
	timeout    time.Duration

	// db overrides the connection when set; tests inject it.
	db *sqlx.DB
}

// Register adds the operation to reg.
func Register(reg *operation.Registry) {
	reg.Register(Name, func() operation.Operation { return &Op{} })
}

// Metadata implements operation.Operation.
func (o *Op) Metadata() operation.Metadata {
	return operation.Metadata{
		Name:        Name,
		Version:     "1.0.0",
		Description: "Runs prepared SQL statements and decodes rows",
	}
}

// Validate implements operation.Operation. Accepts either a single
// query/args pair or a statements list; the list is required for tx.
func (o *Op) Validate(params map[string]any) error {
	if o.db == nil {
		connStr, err := operation.RequiredString(params, "conn_str")
		if err != nil {
			return err
		}
		o.connStr = connStr
	}
	o.driver = operation.StringOr(params, "driver", "postgres")

	var statements []statement
	if raw, ok := operation.ListParam(params, "statements"); ok {
		for i, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("statements[%d] must be a mapping", i)
			}
			query, err := operation.RequiredString(m, "query")
			if err != nil {
				return fmt.Errorf("statements[%d]: %w", i, err)
			}
			args, _ := operation.ListParam(m, "args")
			statements = append(statements, statement{query: query, args: args})
		}
	} else if query, ok := operation.StringParam(params, "query"); ok && query != "" {
		args, _ := operation.ListParam(params, "args")
		statements = append(statements, statement{query: query, args: args})
	}
	if len(statements) == 0 {
		return fmt.Errorf("param %q or %q is required", "query", "statements")
	}

	o.Params = params
	o.statements = statements
	o.tx = operation.BoolOr(params, "tx", false)
	o.timeout = operation.DurationOr(params, "timeout_seconds", defaultTimeout)
	return nil
}

// Run implements operation.Operation. The output carries one entry per
// statement: {"rows": [...], "rows_affected": n}.
func (o *Op) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	db := o.db
	if db == nil {
		opened, err := sqlx.ConnectContext(runCtx, o.driver, o.connStr)
		if err != nil {
			return operation.Ko(fmt.Errorf("connect %s: %w", o.driver, err))
		}
		defer func() { _ = opened.Close() }()
		db = opened
	}

	if o.tx {
		return o.runInTx(runCtx, db)
	}

	results := make([]any, 0, len(o.statements))
	for i, stmt := range o.statements {
		out, err := execStatement(runCtx, db, stmt)
		if err != nil {
			return operation.Ko(fmt.Errorf("statement %d: %w", i, err))
		}
		results = append(results, out)
	}
	return operation.Ok(map[string]any{"results": results})
}

func (o *Op) runInTx(ctx context.Context, db *sqlx.DB) operation.Result {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return operation.Ko(fmt.Errorf("begin: %w", err))
	}

	results := make([]any, 0, len(o.statements))
	for i, stmt := range o.statements {
		out, err := execStatement(ctx, tx, stmt)
		if err != nil {
			_ = tx.Rollback()
			return operation.Ko(fmt.Errorf("statement %d: %w", i, err))
		}
		results = append(results, out)
	}
	if err := tx.Commit(); err != nil {
		return operation.Ko(fmt.Errorf("commit: %w", err))
	}
	return operation.Ok(map[string]any{"results": results})
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

func execStatement(ctx context.Context, q queryer, stmt statement) (map[string]any, error) {
	rows, err := q.QueryxContext(ctx, stmt.query, stmt.args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	decoded := []any{}
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		decoded = append(decoded, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return map[string]any{
		"rows":      decoded,
		"row_count": float64(len(decoded)),
	}, nil
}
