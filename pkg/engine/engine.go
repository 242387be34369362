// Package engine is an embedded multi-version row store that enforces
// READ COMMITTED, REPEATABLE READ and SERIALIZABLE on its own, the way a
// relational server would: per-statement or per-transaction snapshots,
// exclusive row locks with bounded waits and deadlock detection, first
// updater wins, and serializable snapshot isolation over SIREAD marks.
//
// It stands in for the server behind the dataset.Dataset contract so the
// schedules can be replayed without any external process.
package engine

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"isolab/pkg/config"
	"isolab/pkg/dataset"
	"isolab/pkg/isolation"
	"isolab/pkg/row"

	"github.com/google/uuid"
)

// A committed row image.
type version struct {
	row      row.Row
	commitTS uint64
	writer   *Transaction // nil for rows created by Reset
}

// All committed versions of one row, oldest first.
type record struct {
	versions []version
}

func (r *record) latest() version {
	return r.versions[len(r.versions)-1]
}

// visible returns the newest version committed at or before snap.
func (r *record) visible(snap uint64) (version, bool) {
	for i := len(r.versions) - 1; i >= 0; i-- {
		if r.versions[i].commitTS <= snap {
			return r.versions[i], true
		}
	}
	return version{}, false
}

// Engine holds one table of rows.
type Engine struct {
	table       string
	lockTimeout time.Duration
	logger      *log.Logger

	rows      map[int64]*record
	nextID    int64
	clock     uint64
	txns      map[uuid.UUID]*Transaction // open transactions
	committed []*Transaction             // serializable commits still concurrent with an open transaction
	closed    bool
	mtx       sync.Mutex

	locks *ResourceLockManager
}

// Option configures an Engine.
type Option func(*Engine)

// WithLockTimeout bounds how long a statement waits for a row lock.
// Zero waits until the context ends.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lockTimeout = d }
}

// WithLogger sets the logger for engine notices.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an engine whose table already holds the canonical rows.
func New(opts ...Option) *Engine {
	e := &Engine{
		table:       config.TableName,
		lockTimeout: config.DefaultLockTimeout,
		logger:      log.Default(),
		txns:        make(map[uuid.UUID]*Transaction),
		locks:       NewResourceLockManager(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.seed()
	return e
}

// seed recreates the table. Expects e.mtx to be locked or e unpublished.
func (e *Engine) seed() {
	e.rows = make(map[int64]*record)
	e.nextID = 1
	e.clock++
	for _, r := range row.Canonical() {
		r.ID = e.nextID
		e.nextID++
		e.rows[r.ID] = &record{versions: []version{{row: r, commitTS: e.clock}}}
	}
	e.committed = nil
}

// Connect opens a new connection to the engine.
func (e *Engine) Connect(ctx context.Context) (dataset.Conn, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.closed {
		return nil, classify(ErrEngineClosed)
	}
	return &Conn{engine: e, id: uuid.New()}, nil
}

// Reset drops and recreates the table. It refuses while any transaction
// is open, since those would keep the old table locked.
func (e *Engine) Reset(ctx context.Context) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.closed {
		return classify(ErrEngineClosed)
	}
	if len(e.txns) > 0 {
		return classify(ErrOpenTransactions)
	}
	e.seed()
	e.logger.Printf("%s: table %s reset to %d rows", config.DBName, e.table, len(e.rows))
	return nil
}

// Lookup returns the latest committed image of a row.
func (e *Engine) Lookup(ctx context.Context, id int64) (row.Row, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	rec, found := e.rows[id]
	if !found {
		return row.Row{}, classify(dataset.ErrRowNotFound)
	}
	return rec.latest().row, nil
}

// Rows returns the latest committed image of every row, ordered by id.
func (e *Engine) Rows(ctx context.Context) ([]row.Row, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	rows := make([]row.Row, 0, len(e.rows))
	for _, rec := range e.rows {
		rows = append(rows, rec.latest().row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// OpenTransactions returns the number of transactions not yet committed
// or rolled back.
func (e *Engine) OpenTransactions() int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return len(e.txns)
}

// Close rolls back every open transaction and refuses further connections.
func (e *Engine) Close() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for _, t := range e.txns {
		e.finish(t, RolledBack)
	}
	return nil
}

func (e *Engine) begin(level isolation.Level) (*Transaction, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	t := newTransaction(level)
	e.txns[t.id] = t
	return t, nil
}

// enter starts a statement in t. Expects e.mtx to be locked.
func (e *Engine) enter(t *Transaction) error {
	switch t.status {
	case Committed, RolledBack:
		return ErrTxDone
	case Aborted:
		return ErrTxAborted
	}
	if !t.started {
		t.started = true
		t.startTS = e.clock
	}
	return nil
}

// snapshot returns the read timestamp of t's current statement.
func (e *Engine) snapshot(t *Transaction) uint64 {
	if t.level.PerStatementSnapshot() {
		return e.clock
	}
	return t.startTS
}

// abort marks t failed; it stays open until rolled back.
func (e *Engine) abort(t *Transaction, err error) error {
	if t.status == Active {
		t.status = Aborted
	}
	return err
}

func (e *Engine) resource(id int64) Resource {
	return Resource{tableName: e.table, key: id}
}

func (e *Engine) get(ctx context.Context, t *Transaction, id int64) (row.Row, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if err := e.enter(t); err != nil {
		return row.Row{}, err
	}
	if r, found := t.writes[id]; found {
		return r, nil
	}
	v, found := e.read(t, id)
	if !found {
		return row.Row{}, dataset.ErrRowNotFound
	}
	return v.row, nil
}

// read returns the version of a row visible to t and, under SERIALIZABLE,
// records the SIREAD mark. Expects e.mtx to be locked.
func (e *Engine) read(t *Transaction, id int64) (version, bool) {
	rec, found := e.rows[id]
	if !found {
		return version{}, false
	}
	snap := e.snapshot(t)
	v, found := rec.visible(snap)
	if !found {
		return version{}, false
	}
	if t.level == isolation.Serializable {
		t.markRead(id)
		e.trackRead(t, id, rec, snap)
	}
	return v, true
}

// trackRead adds t -rw-> W for every serializable W whose write to row id
// t cannot see.
func (e *Engine) trackRead(t *Transaction, id int64, rec *record, snap uint64) {
	for _, other := range e.txns {
		if other != t && other.level == isolation.Serializable && other.hasWritten(id) {
			addConflict(t, other)
		}
	}
	for _, v := range rec.versions {
		if v.commitTS > snap && v.writer != nil && v.writer.level == isolation.Serializable {
			addConflict(t, v.writer)
		}
	}
}

// trackWrite adds R -rw-> t for every concurrent serializable R that read
// row id.
func (e *Engine) trackWrite(t *Transaction, id int64) {
	for _, other := range e.txns {
		if other != t && other.level == isolation.Serializable && other.hasRead(id) {
			addConflict(other, t)
		}
	}
	for _, other := range e.committed {
		if other.commitTS > t.startTS && other.hasRead(id) {
			addConflict(other, t)
		}
	}
}

func (e *Engine) lock(ctx context.Context, t *Transaction, id int64, mode dataset.LockMode) error {
	switch mode {
	case dataset.LockUpdate:
		return e.lockForUpdate(ctx, t, id)
	case dataset.LockShare:
		// FOR SHARE takes a SIREAD mark only; it never blocks a writer.
		e.mtx.Lock()
		defer e.mtx.Unlock()
		if err := e.enter(t); err != nil {
			return err
		}
		e.read(t, id)
		return nil
	default:
		e.mtx.Lock()
		defer e.mtx.Unlock()
		return e.enter(t)
	}
}

// lockForUpdate takes the exclusive row lock, waiting up to the lock
// timeout, then applies first-updater-wins for snapshot levels.
func (e *Engine) lockForUpdate(ctx context.Context, t *Transaction, id int64) error {
	e.mtx.Lock()
	err := e.enter(t)
	e.mtx.Unlock()
	if err != nil {
		return err
	}

	wctx := ctx
	if e.lockTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, e.lockTimeout)
		defer cancel()
	}
	r := e.resource(id)
	err = e.locks.Lock(wctx, t, r)

	e.mtx.Lock()
	defer e.mtx.Unlock()
	if err != nil {
		e.logWait(t, r, err)
		return e.abort(t, err)
	}
	if t.status != Active {
		// Rolled back by another caller while we waited.
		e.locks.ReleaseAll(t)
		return ErrTxDone
	}
	rec, found := e.rows[id]
	if !found {
		return nil
	}
	latest := rec.latest()
	if t.level.RejectsConcurrentUpdate() && latest.commitTS > t.startTS && latest.writer != t {
		return e.abort(t, ErrConcurrentUpdate)
	}
	return nil
}

// logWait notes a lock request that gave up, and who held the row.
func (e *Engine) logWait(t *Transaction, r Resource, err error) {
	holder, found := e.locks.Holder(r)
	if !found {
		return
	}
	e.logger.Printf("%s: %s transaction %s gave up on %s row %d held by %s transaction %s: %v",
		config.DBName, t.GetLevel(), t.GetID(), r.GetTableName(), r.GetResourceKey(),
		holder.GetLevel(), holder.GetID(), err)
}

func (e *Engine) setName(ctx context.Context, t *Transaction, id int64, name string) error {
	if utf8.RuneCountInString(name) > config.MaxNameLength {
		e.mtx.Lock()
		defer e.mtx.Unlock()
		if err := e.enter(t); err != nil {
			return err
		}
		return e.abort(t, ErrNameTooLong)
	}
	if err := e.lockForUpdate(ctx, t, id); err != nil {
		return err
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()
	base, found := t.writes[id]
	if !found {
		rec, exists := e.rows[id]
		if !exists {
			return dataset.ErrRowNotFound
		}
		// Updates always apply to the newest committed image; snapshot
		// levels already failed above if that image is not theirs to see.
		base = rec.latest().row
	}
	base.Name = name
	t.writes[id] = base
	t.writeSet.Set(uint(id))
	if t.level == isolation.Serializable {
		e.trackWrite(t, id)
	}
	return nil
}

func (e *Engine) commit(t *Transaction) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	switch t.status {
	case Committed, RolledBack:
		return ErrTxDone
	case Aborted:
		e.finish(t, RolledBack)
		return ErrTxAborted
	}
	if t.level == isolation.Serializable && t.isPivot() {
		e.finish(t, RolledBack)
		return ErrReadWriteDeps
	}
	e.clock++
	t.commitTS = e.clock
	for id, r := range t.writes {
		if rec, found := e.rows[id]; found {
			rec.versions = append(rec.versions, version{row: r, commitTS: t.commitTS, writer: t})
		}
	}
	if t.level == isolation.Serializable && t.started {
		e.committed = append(e.committed, t)
	}
	e.finish(t, Committed)
	return nil
}

func (e *Engine) rollback(t *Transaction) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if t.status == Committed || t.status == RolledBack {
		return ErrTxDone
	}
	e.finish(t, RolledBack)
	return nil
}

// finish ends t and releases its locks. Expects e.mtx to be locked.
func (e *Engine) finish(t *Transaction, status Status) {
	t.status = status
	if status != Committed {
		t.writes = make(map[int64]row.Row)
	}
	delete(e.txns, t.id)
	e.locks.ReleaseAll(t)
	e.prune()
}

// prune forgets serializable commits that no open transaction overlaps.
// Expects e.mtx to be locked.
func (e *Engine) prune() {
	var oldest uint64
	overlapped := false
	for _, t := range e.txns {
		if t.started && (!overlapped || t.startTS < oldest) {
			oldest, overlapped = t.startTS, true
		}
	}
	if !overlapped {
		e.committed = nil
		return
	}
	kept := e.committed[:0]
	for _, t := range e.committed {
		if t.commitTS > oldest {
			kept = append(kept, t)
		}
	}
	e.committed = kept
}
