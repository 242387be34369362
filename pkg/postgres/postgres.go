// Package postgres implements the dataset contract against a PostgreSQL
// server, so the schedules can be replayed against the real engine.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"isolab/pkg/config"
	"isolab/pkg/dataset"
	"isolab/pkg/isolation"
	"isolab/pkg/row"
	"isolab/pkg/txerr"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// SQLSTATE codes the harness classifies.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
	codeLockNotAvailable     = "55P03"
)

// Dataset is a PostgreSQL database holding the transaction_test table.
type Dataset struct {
	db               *sql.DB
	table            string
	statementTimeout time.Duration
	logger           *log.Logger
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithStatementTimeout sets statement_timeout on every session connection
// so a lock wait that can never end surfaces as a cancellation.
func WithStatementTimeout(d time.Duration) Option {
	return func(ds *Dataset) { ds.statementTimeout = d }
}

// WithLogger sets the logger for connection notices.
func WithLogger(l *log.Logger) Option {
	return func(ds *Dataset) { ds.logger = l }
}

// Open connects to the server at dsn and checks that it answers.
func Open(ctx context.Context, dsn string, opts ...Option) (*Dataset, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, classify(err)
	}
	ds := &Dataset{db: db, table: config.TableName, logger: log.Default()}
	for _, opt := range opts {
		opt(ds)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify(errors.Wrap(err, "connecting to the database"))
	}
	ds.logger.Printf("%s: connected to the database", config.DBName)
	return ds, nil
}

// Connect pins one pooled connection for the exclusive use of the caller.
func (ds *Dataset) Connect(ctx context.Context) (dataset.Conn, error) {
	conn, err := ds.db.Conn(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if ds.statementTimeout > 0 {
		stmt := fmt.Sprintf("SET statement_timeout = %d", ds.statementTimeout.Milliseconds())
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, classify(err)
		}
	}
	return &Conn{conn: conn, table: ds.table}, nil
}

// Reset drops and recreates the table with the canonical rows.
func (ds *Dataset) Reset(ctx context.Context) (err error) {
	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				ds.logger.Printf("%s: error rolling back reset: %v", config.DBName, rbErr)
			}
		}
	}()
	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", ds.table),
		fmt.Sprintf(`CREATE TABLE %s (
			id SERIAL PRIMARY KEY,
			name VARCHAR(%d),
			value INTEGER
		)`, ds.table, config.MaxNameLength),
	}
	for _, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return classify(errors.Wrap(err, "setting up database"))
		}
	}
	insert := fmt.Sprintf("INSERT INTO %s (name, value) VALUES ($1, $2)", ds.table)
	for _, r := range row.Canonical() {
		if _, err = tx.ExecContext(ctx, insert, r.Name, r.Value); err != nil {
			return classify(errors.Wrap(err, "setting up database"))
		}
	}
	if err = tx.Commit(); err != nil {
		return classify(err)
	}
	ds.logger.Printf("%s: database initialized successfully", config.DBName)
	return nil
}

// Lookup returns the committed row with the given id.
func (ds *Dataset) Lookup(ctx context.Context, id int64) (row.Row, error) {
	query := fmt.Sprintf("SELECT id, name, value FROM %s WHERE id = $1", ds.table)
	var r row.Row
	err := ds.db.QueryRowContext(ctx, query, id).Scan(&r.ID, &r.Name, &r.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return row.Row{}, classify(dataset.ErrRowNotFound)
	}
	return r, classify(err)
}

// Rows returns every committed row ordered by id.
func (ds *Dataset) Rows(ctx context.Context) ([]row.Row, error) {
	query := fmt.Sprintf("SELECT id, name, value FROM %s ORDER BY id", ds.table)
	rs, err := ds.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	defer rs.Close()
	var rows []row.Row
	for rs.Next() {
		var r row.Row
		if err := rs.Scan(&r.ID, &r.Name, &r.Value); err != nil {
			return nil, classify(err)
		}
		rows = append(rows, r)
	}
	return rows, classify(rs.Err())
}

func (ds *Dataset) Close() error {
	return ds.db.Close()
}

// Conn is one pinned server connection.
type Conn struct {
	conn  *sql.Conn
	table string
}

// Begin starts an explicit transaction at the given level.
func (c *Conn) Begin(ctx context.Context, level isolation.Level) (dataset.Tx, error) {
	if !level.Valid() {
		return nil, txerr.Newf(txerr.KindConfiguration, "begin", "invalid isolation level %d", int(level))
	}
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{Isolation: level.SQL()})
	if err != nil {
		return nil, classify(err)
	}
	return &Tx{tx: tx, table: c.table}, nil
}

// Close returns the connection to the pool. Closing twice is a no-op.
func (c *Conn) Close() error {
	err := c.conn.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return classify(err)
}

// Tx is a transaction on a Conn.
type Tx struct {
	tx    *sql.Tx
	table string
}

func (t *Tx) Lock(ctx context.Context, id int64, mode dataset.LockMode) error {
	var clause string
	switch mode {
	case dataset.LockShare:
		clause = "FOR SHARE"
	case dataset.LockUpdate:
		clause = "FOR UPDATE"
	default:
		return nil
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = $1 %s", t.table, clause)
	rs, err := t.tx.QueryContext(ctx, query, id)
	if err != nil {
		return classify(err)
	}
	defer rs.Close()
	for rs.Next() {
	}
	return classify(rs.Err())
}

func (t *Tx) Get(ctx context.Context, id int64) (row.Row, error) {
	query := fmt.Sprintf("SELECT id, name, value FROM %s WHERE id = $1", t.table)
	var r row.Row
	err := t.tx.QueryRowContext(ctx, query, id).Scan(&r.ID, &r.Name, &r.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return row.Row{}, classify(dataset.ErrRowNotFound)
	}
	return r, classify(err)
}

func (t *Tx) SetName(ctx context.Context, id int64, name string) error {
	stmt := fmt.Sprintf("UPDATE %s SET name = $1 WHERE id = $2", t.table)
	res, err := t.tx.ExecContext(ctx, stmt, name, id)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return classify(dataset.ErrRowNotFound)
	}
	return nil
}

func (t *Tx) Commit(ctx context.Context) error {
	return classify(t.tx.Commit())
}

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return classify(err)
}

// classify tags a driver error with its txerr kind by SQLSTATE.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return txerr.Wrap(txerr.KindSerialization, "", err)
		case codeQueryCanceled, codeLockNotAvailable:
			return txerr.Wrap(txerr.KindCancellation, "", err)
		}
		return txerr.Wrap(txerr.KindDatabase, "", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return txerr.Wrap(txerr.KindCancellation, "", err)
	}
	return txerr.Wrap(txerr.KindDatabase, "", err)
}
