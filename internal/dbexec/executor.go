// Package dbexec runs rendered statements inside role-bound transactions.
// Row-level security does the access control: each transaction switches to the
// request role and publishes the JWT claims through set_config before the
// statement runs.
package dbexec

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"pgrest/internal/apierror"
	"pgrest/internal/sqlbuilder"
)

// Options controls one execution.
type Options struct {
	// ReadOnly begins a READ ONLY transaction.
	ReadOnly bool
	// Rollback discards the transaction after the statement (Prefer: tx=rollback).
	Rollback bool
	// Singular rolls back and fails unless exactly one row was produced.
	Singular bool
}

// Result is the single row every statement returns.
type Result struct {
	// Total is the full result size, nil when not requested or unknown.
	Total *int64
	// PageTotal is the number of rows in Body.
	PageTotal int64
	// Body is the JSON text of the response rows, nil for void routines.
	Body []byte
}

// Config configures an Executor.
type Config struct {
	DB *sql.DB
	// PoolTimeout bounds connection acquisition. Zero waits for the request context.
	PoolTimeout time.Duration
	// StatementTimeout is applied with set_config('statement_timeout'). Zero keeps the server default.
	StatementTimeout time.Duration
	// AllowedRoles restricts the roles a request may switch to. Empty allows any role.
	AllowedRoles []string
}

// Executor runs statements against a connection pool.
type Executor struct {
	db               *sql.DB
	poolTimeout      time.Duration
	statementTimeout time.Duration
	allowedRoles     map[string]struct{}
}

// NewExecutor creates an executor over the given pool.
func NewExecutor(cfg Config) *Executor {
	allowed := make(map[string]struct{}, len(cfg.AllowedRoles))
	for _, role := range cfg.AllowedRoles {
		allowed[role] = struct{}{}
	}
	return &Executor{
		db:               cfg.DB,
		poolTimeout:      cfg.PoolTimeout,
		statementTimeout: cfg.StatementTimeout,
		allowedRoles:     allowed,
	}
}

// Execute runs stmt in a transaction bound to rc. Database errors come back
// classified as apierror values.
func (e *Executor) Execute(ctx context.Context, stmt *sqlbuilder.Statement, rc RoleContext, opts Options) (*Result, error) {
	if e.db == nil {
		return nil, apierror.ConnectionFailure(sql.ErrConnDone.Error())
	}
	if err := e.checkRole(rc.Role); err != nil {
		return nil, err
	}

	conn, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, mapError(ctx, errors.Wrap(err, "begin transaction"), rc.Anonymous)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if query, args := e.sessionSettings(rc); query != "" {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, mapError(ctx, errors.Wrap(err, "apply session settings"), rc.Anonymous)
		}
	}

	var total *int64
	if stmt.Count != nil {
		total, err = runCount(ctx, tx, stmt)
		if err != nil {
			return nil, mapError(ctx, err, rc.Anonymous)
		}
	}

	res, err := scanResult(ctx, tx, stmt.Main)
	if err != nil {
		return nil, mapError(ctx, err, rc.Anonymous)
	}
	if stmt.CountStrategy != sqlbuilder.CountInline {
		res.Total = total
	}

	if opts.Singular && res.PageTotal != 1 {
		return nil, apierror.SingularViolation(res.PageTotal)
	}
	if opts.Rollback {
		return res, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, mapError(ctx, errors.Wrap(err, "commit"), rc.Anonymous)
	}
	committed = true
	return res, nil
}

// acquire takes a dedicated connection so the transaction settings stay on it.
// A wait longer than the pool timeout is reported separately from a request
// that was cancelled while waiting.
func (e *Executor) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx := ctx
	if e.poolTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, e.poolTimeout)
		defer cancel()
	}
	conn, err := e.db.Conn(acquireCtx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, apierror.StatementTimeout()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, apierror.PoolTimeout(e.poolTimeout)
	}
	return nil, apierror.ConnectionFailure(err.Error())
}

func scanResult(ctx context.Context, tx *sql.Tx, q sqlbuilder.Query) (*Result, error) {
	var (
		total     sql.NullInt64
		pageTotal int64
		body      sql.NullString
	)
	err := tx.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&total, &pageTotal, &body)
	if err != nil {
		return nil, errors.Wrap(err, "execute statement")
	}
	res := &Result{PageTotal: pageTotal}
	if total.Valid {
		v := total.Int64
		res.Total = &v
	}
	if body.Valid {
		res.Body = []byte(body.String)
	}
	return res, nil
}

// runCount runs the companion count query. Unknown estimates yield nil.
func runCount(ctx context.Context, tx *sql.Tx, stmt *sqlbuilder.Statement) (*int64, error) {
	row := tx.QueryRowContext(ctx, stmt.Count.SQL, stmt.Count.Args...)
	switch stmt.CountStrategy {
	case sqlbuilder.CountExplain:
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "explain count")
		}
		rows, err := planRows(raw)
		if err != nil {
			return nil, err
		}
		return &rows, nil
	case sqlbuilder.CountEstimate:
		var estimate sql.NullInt64
		if err := row.Scan(&estimate); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, errors.Wrap(err, "estimate count")
		}
		// reltuples is -1 for tables never analyzed.
		if !estimate.Valid || estimate.Int64 < 0 {
			return nil, nil
		}
		return &estimate.Int64, nil
	}
	return nil, errors.Newf("dbexec: count strategy %s has no companion query", stmt.CountStrategy)
}

type explainOutput []struct {
	Plan struct {
		Rows float64 `json:"Plan Rows"`
	} `json:"Plan"`
}

func planRows(raw []byte) (int64, error) {
	var out explainOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, errors.Wrap(err, "decode explain output")
	}
	if len(out) == 0 {
		return 0, errors.New("dbexec: empty explain output")
	}
	return int64(out[0].Plan.Rows), nil
}
