// Package transaction owns the lifecycle of explicit units of work. A
// Transaction is ACTIVE until Commit or Rollback succeeds and can never be
// used again afterwards.
package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/db"
	"github.com/VENIZIA-AI/ignis-sub007/internal/common/metrics"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/utils/contextkey"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle state of a transaction.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	}
	return "UNKNOWN"
}

// Options configures a new transaction.
type Options struct {
	// IsolationLevel defaults to the manager's default level.
	IsolationLevel db.IsolationLevel
	ReadOnly       bool
}

// Manager opens transactions on the provider's current pool.
type Manager struct {
	provider         db.Provider
	defaultIsolation db.IsolationLevel
}

// NewManager creates a manager whose transactions default to READ COMMITTED.
func NewManager(provider db.Provider) *Manager {
	return &Manager{provider: provider, defaultIsolation: db.IsolationReadCommitted}
}

// WithDefaultIsolation changes the level used when Options leave it unset.
func (m *Manager) WithDefaultIsolation(level db.IsolationLevel) *Manager {
	m.defaultIsolation = level
	return m
}

// Begin opens a transaction bound to one pooled connection. The connection
// stays reserved until Commit or Rollback; cancelling ctx afterwards does not
// end the transaction.
func (m *Manager) Begin(ctx context.Context, opts *Options) (*Transaction, error) {
	database, err := db.CurrentDatabase(m.provider)
	if err != nil {
		return nil, errors.Wrapf(err, errors.TransactionFailed, "begin transaction failed: %v", err)
	}
	level := m.defaultIsolation
	readOnly := false
	if opts != nil {
		if opts.IsolationLevel != db.IsolationDefault {
			level = opts.IsolationLevel
		}
		readOnly = opts.ReadOnly
	}

	// The sql.Tx would roll back when its begin context ends.
	tx, err := database.BeginTx(context.WithoutCancel(ctx), &db.TxOptions{Isolation: level, ReadOnly: readOnly})
	if err != nil {
		return nil, errors.Wrapf(err, errors.TransactionFailed, "begin transaction failed: %v", err)
	}
	t := &Transaction{
		id:        uuid.NewString(),
		isolation: level,
		readOnly:  readOnly,
		tx:        tx,
		startedAt: time.Now(),
	}
	logger.Debug(t.Context(ctx), "transaction started",
		zap.String("isolation", level.String()),
		zap.Bool("read_only", readOnly),
		zap.String("driver", string(database.Driver())),
	)
	return t, nil
}

// Transaction is an explicit unit of work. It is safe for concurrent use, but
// statements issued through it run one at a time on its single connection.
type Transaction struct {
	id        string
	isolation db.IsolationLevel
	readOnly  bool
	startedAt time.Time

	mu    sync.Mutex
	tx    db.Transaction
	state State
	hooks []func(ctx context.Context)
}

// ID returns the transaction id.
func (t *Transaction) ID() string {
	return t.id
}

// Isolation returns the requested isolation level.
func (t *Transaction) Isolation() db.IsolationLevel {
	return t.isolation
}

// ReadOnly reports whether the transaction was opened read-only.
func (t *Transaction) ReadOnly() bool {
	return t.readOnly
}

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsActive reports whether statements may still run on the transaction.
func (t *Transaction) IsActive() bool {
	return t.State() == StateActive
}

// Context tags ctx with the transaction id for logging.
func (t *Transaction) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextkey.TransactionID, t.id)
}

// Querier returns the connection bound to the transaction, or an
// InactiveTransaction error once the transaction has ended.
func (t *Transaction) Querier() (db.Querier, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return nil, t.inactiveError("query")
	}
	return t.tx, nil
}

// OnCommit registers fn to run after a successful commit. Hooks never run
// when the transaction is rolled back.
func (t *Transaction) OnCommit(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// Commit makes the transaction's writes visible. When the backend refuses the
// commit the transaction stays ACTIVE so the caller can still roll back.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return t.inactiveError("commit")
	}
	if err := t.tx.Commit(); err != nil {
		t.mu.Unlock()
		logger.Error(t.Context(ctx), "transaction commit failed", zap.Error(err))
		metrics.TransactionFinished(metrics.OutcomeCommitFailed)
		return errors.Wrapf(err, errors.TransactionFailed, "commit transaction failed: %v", err).
			WithDetail("transaction", t.id)
	}
	t.state = StateCommitted
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()

	logger.Debug(t.Context(ctx), "transaction committed", zap.Duration("elapsed", time.Since(t.startedAt)))
	metrics.TransactionFinished(metrics.OutcomeCommitted)
	for _, hook := range hooks {
		hook(ctx)
	}
	return nil
}

// Rollback discards the transaction's writes. Rolling back after a failed
// commit succeeds even though the driver already released the connection.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return t.inactiveError("rollback")
	}
	if err := t.tx.Rollback(); err != nil && !db.IsTxDone(err) {
		logger.Error(t.Context(ctx), "transaction rollback failed", zap.Error(err))
		return errors.Wrapf(err, errors.TransactionFailed, "rollback transaction failed: %v", err).
			WithDetail("transaction", t.id)
	}
	t.state = StateRolledBack
	t.hooks = nil
	logger.Debug(t.Context(ctx), "transaction rolled back", zap.Duration("elapsed", time.Since(t.startedAt)))
	metrics.TransactionFinished(metrics.OutcomeRolledBack)
	return nil
}

func (t *Transaction) inactiveError(op string) error {
	return errors.Newf(errors.InactiveTransaction, "cannot %s: transaction %s is %s", op, t.id, t.state).
		WithDetail("transaction", t.id).
		WithDetail("state", t.state.String())
}
