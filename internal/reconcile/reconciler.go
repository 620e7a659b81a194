// Package reconcile owns the in-memory set of commitments awaiting
// reveal and drives settlement dispatch once a commit's reveal block
// has passed.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"settler/internal/model"
)

// TickInterval is the fixed schedule from §4.D: 10s granularity is
// sufficient given typical 2-15s block times.
const TickInterval = 10 * time.Second

// Dispatcher is the narrow interface the Reconciler needs from the
// Settlement Dispatcher, kept separate to avoid an import cycle
// between reconcile and settle.
type Dispatcher interface {
	Dispatch(ctx context.Context, key model.Key)
}

// Reconciler maintains map[Key]PendingBet under a single mutex; ticks
// on a fixed schedule and hands due keys to the dispatcher.
type Reconciler struct {
	chain      BlockNumberer
	dispatcher Dispatcher
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[model.Key]model.PendingBet

	logEvery uint64
}

// BlockNumberer is the read the Reconciler needs from the Chain
// Transport; kept minimal so tests can fake it trivially.
type BlockNumberer interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// New builds a Reconciler. The dispatcher may be attached later via
// SetDispatcher to break the construction-order cycle with the
// Settlement Dispatcher, which itself needs a callback into the
// Reconciler.
func New(chain BlockNumberer, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		chain:    chain,
		logger:   logger.With(zap.String("component", "reconciler")),
		pending:  make(map[model.Key]model.PendingBet),
		logEvery: 5,
	}
}

// SetDispatcher attaches the Settlement Dispatcher.
func (r *Reconciler) SetDispatcher(d Dispatcher) {
	r.dispatcher = d
}

// Upsert replaces any prior entry for the same key, per the §3
// invariant that a later BetPlaced for a key supersedes the prior one.
func (r *Reconciler) Upsert(pb model.PendingBet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[pb.Key] = pb
}

// Remove drops a key, called on BetSettled observation or after a
// successful (or idempotence-equivalent) dispatch.
func (r *Reconciler) Remove(key model.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, key)
}

// Get returns the pending bet for a key, if any — used by the
// Ingestor to recover amount/betBig when a BetSettled arrives.
func (r *Reconciler) Get(key model.Key) (model.PendingBet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pb, ok := r.pending[key]
	return pb, ok
}

// Count returns the number of bets currently pending settlement, for
// the /status surface.
func (r *Reconciler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run starts the fixed-schedule tick loop and blocks until ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick reads the current block height and dispatches settlement for
// every entry whose reveal block has passed. Snapshotting the due
// keys before releasing the lock keeps iteration resilient to
// concurrent removal by the dispatcher callback (§4.D.3).
func (r *Reconciler) Tick(ctx context.Context) {
	current, err := r.chain.BlockNumber(ctx)
	if err != nil {
		r.logger.Warn("tick: block number read failed", zap.Error(err))
		return
	}

	var due []model.Key
	var waiting int

	r.mu.Lock()
	for key, pb := range r.pending {
		if current >= pb.RevealBlock {
			due = append(due, key)
		} else {
			waiting++
		}
	}
	r.mu.Unlock()

	if waiting > 0 && current%r.logEvery == 0 {
		r.logger.Debug("tick: bets awaiting reveal", zap.Int("count", waiting), zap.Uint64("current_block", current))
	}

	if r.dispatcher == nil {
		if len(due) > 0 {
			r.logger.Warn("tick: bets due but no dispatcher attached", zap.Int("count", len(due)))
		}
		return
	}

	// Each dispatch runs on its own goroutine so a stuck settleBet
	// (underpriced during congestion, dropped from mempool) can't block
	// the tick loop and starve every other pending bet's retry per
	// §4.E.5 — overlapping dispatches across keys are acceptable.
	for _, key := range due {
		go r.dispatcher.Dispatch(ctx, key)
	}
}
