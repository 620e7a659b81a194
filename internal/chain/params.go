package chain

import (
	"context"
	"math/big"

	"go.uber.org/zap"
)

// DefaultRevealDelay is retained when the contract read fails or
// returns something nonsensical; the Reconciler reads this exactly
// once per process lifetime.
const DefaultRevealDelay uint64 = 3

// LoadRevealDelay performs the one-shot startup read of the contract's
// revealDelay() parameter, falling back to DefaultRevealDelay on any
// error or non-positive result. Grounded on dex.FetchPoolMeta's
// best-effort on-chain lookup with a safe fallback.
func LoadRevealDelay(ctx context.Context, c *Client, logger *zap.Logger) uint64 {
	if logger == nil {
		logger = zap.NewNop()
	}

	delay, err := c.RevealDelay(ctx)
	if err != nil {
		logger.Warn("reveal delay lookup failed, using default",
			zap.Uint64("default", DefaultRevealDelay), zap.Error(err))
		return DefaultRevealDelay
	}
	if delay == 0 {
		logger.Warn("reveal delay reported as zero, using default",
			zap.Uint64("default", DefaultRevealDelay))
		return DefaultRevealDelay
	}
	return delay
}

// LowBalanceThresholdWei is the default 0.01 native-unit warning
// threshold from §5's shared-resources note.
var LowBalanceThresholdWei = new(big.Int).Mul(big.NewInt(1e16), big.NewInt(1)) // 0.01 * 1e18

// WarnIfLowBalance logs a warning if the settler signer's balance is
// below LowBalanceThresholdWei.
func WarnIfLowBalance(ctx context.Context, c *Client, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	addr := c.SignerAddress()
	bal, err := c.BalanceOf(ctx, addr)
	if err != nil {
		logger.Warn("balance check failed", zap.String("signer", addr.Hex()), zap.Error(err))
		return
	}
	if bal.Cmp(LowBalanceThresholdWei) < 0 {
		logger.Warn("settler balance below threshold",
			zap.String("signer", addr.Hex()),
			zap.String("balance_wei", bal.String()),
			zap.String("threshold_wei", LowBalanceThresholdWei.String()),
		)
	}
}
