// Package settle submits settleBet transactions for keys the
// Reconciler has determined are due, and interprets known terminal
// error messages as an already-settled race rather than a failure.
package settle

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"settler/internal/chain"
	"settler/internal/model"
)

// Chain is the narrow interface the Dispatcher needs from the Chain
// Transport.
type Chain interface {
	SettleBet(ctx context.Context, roomID uint32, player common.Address) (common.Hash, error)
	WaitReceipt(ctx context.Context, txHash common.Hash) (chain.Receipt, error)
}

// Remover is the narrow callback into the Reconciler.
type Remover interface {
	Remove(key model.Key)
}

// idempotenceMarkers are case-insensitive substrings that indicate the
// contract already considers this bet settled — a race with another
// settler, or a stale key the reconciler is retrying after the
// original tx already succeeded elsewhere.
var idempotenceMarkers = []string{
	"no valid bet found",
	"already processed",
	"executed",
}

// Dispatcher submits settleBet transactions.
type Dispatcher struct {
	chain      Chain
	reconciler Remover
	logger     *zap.Logger
}

// New builds a Dispatcher.
func New(chain Chain, reconciler Remover, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		chain:      chain,
		reconciler: reconciler,
		logger:     logger.With(zap.String("component", "settlement-dispatcher")),
	}
}

// Dispatch builds, submits and awaits the receipt for a settleBet
// call. It does not hold any reconciler-owned lock across the network
// waits per §5 — this whole call is already outside the reconciler's
// mutex since the Reconciler only reads its map under lock before
// invoking Dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, key model.Key) {
	player := common.HexToAddress(key.Player)

	txHash, err := d.chain.SettleBet(ctx, key.RoomID, player)
	if err != nil {
		d.handleError(key, "submit", err)
		return
	}

	receipt, err := d.chain.WaitReceipt(ctx, txHash)
	if err != nil {
		d.handleError(key, "wait_receipt", err)
		return
	}

	if receipt.Status == 1 {
		d.logger.Info("settlement confirmed",
			zap.String("key", key.String()),
			zap.String("tx_hash", txHash.Hex()),
			zap.Uint64("block", receipt.BlockNumber),
		)
		d.reconciler.Remove(key)
		return
	}

	d.logger.Warn("settlement transaction reverted, leaving key for retry",
		zap.String("key", key.String()), zap.String("tx_hash", txHash.Hex()))
}

func (d *Dispatcher) handleError(key model.Key, stage string, err error) {
	if isIdempotenceError(err) {
		d.logger.Info("settlement already satisfied by another party",
			zap.String("key", key.String()), zap.String("stage", stage), zap.Error(err))
		d.reconciler.Remove(key)
		return
	}

	d.logger.Error("settlement attempt failed, leaving key for next tick",
		zap.String("key", key.String()), zap.String("stage", stage), zap.Error(err))
}

func isIdempotenceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range idempotenceMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
