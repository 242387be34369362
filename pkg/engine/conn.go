package engine

import (
	"context"
	"sync"

	"isolab/pkg/config"
	"isolab/pkg/dataset"
	"isolab/pkg/isolation"
	"isolab/pkg/row"
	"isolab/pkg/txerr"

	"github.com/google/uuid"
)

// Conn is one connection to the engine. It runs at most one transaction
// at a time.
type Conn struct {
	engine *Engine
	id     uuid.UUID
	tx     *Tx
	closed bool
	mtx    sync.Mutex
}

// GetClientID returns the connection id.
func (c *Conn) GetClientID() uuid.UUID {
	return c.id
}

// Begin a transaction on the connection; error if one is already open.
func (c *Conn) Begin(ctx context.Context, level isolation.Level) (dataset.Tx, error) {
	if !level.Valid() {
		return nil, txerr.Newf(txerr.KindConfiguration, "begin", "invalid isolation level %d", int(level))
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return nil, classify(ErrConnClosed)
	}
	if c.tx != nil && c.tx.open() {
		return nil, classify(ErrTxInProgress)
	}
	t, err := c.engine.begin(level)
	if err != nil {
		return nil, classify(err)
	}
	c.tx = &Tx{engine: c.engine, t: t}
	return c.tx, nil
}

// Close rolls back the open transaction, if any. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.tx != nil && c.tx.open() {
		c.engine.logger.Printf("%s: connection %s closed with transaction %s open, rolling back",
			config.DBName, c.GetClientID(), c.tx.ID())
		return classify(c.engine.rollback(c.tx.t))
	}
	return nil
}

// Tx is a transaction on a Conn.
type Tx struct {
	engine *Engine
	t      *Transaction
}

// ID returns the engine transaction id.
func (tx *Tx) ID() uuid.UUID {
	return tx.t.GetID()
}

func (tx *Tx) open() bool {
	tx.engine.mtx.Lock()
	defer tx.engine.mtx.Unlock()
	return tx.t.status == Active || tx.t.status == Aborted
}

func (tx *Tx) Lock(ctx context.Context, id int64, mode dataset.LockMode) error {
	return classify(tx.engine.lock(ctx, tx.t, id, mode))
}

func (tx *Tx) Get(ctx context.Context, id int64) (row.Row, error) {
	r, err := tx.engine.get(ctx, tx.t, id)
	return r, classify(err)
}

func (tx *Tx) SetName(ctx context.Context, id int64, name string) error {
	return classify(tx.engine.setName(ctx, tx.t, id, name))
}

func (tx *Tx) Commit(ctx context.Context) error {
	return classify(tx.engine.commit(tx.t))
}

func (tx *Tx) Rollback(ctx context.Context) error {
	return classify(tx.engine.rollback(tx.t))
}
