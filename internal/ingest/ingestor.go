// Package ingest subscribes to BetPlaced and BetSettled logs, decodes
// them, and fans each one out to the Event Store and the Pending-Bet
// Reconciler.
package ingest

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"settler/internal/chain"
	"settler/internal/model"
	"settler/internal/store"
)

const dedupeCapacity = 10000

// Chain is the narrow interface the Ingestor needs from the Chain
// Transport.
type Chain interface {
	SubscribeLogs(ctx context.Context, topic0 []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error)
	BlockNumber(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, number uint64) (chain.BlockHeader, error)
	PlayerBets(ctx context.Context, roomID uint32, player common.Address) (chain.PlayerBetsResult, error)
}

// Reconciler is the narrow interface the Ingestor needs from the
// Pending-Bet Reconciler.
type Reconciler interface {
	Upsert(pb model.PendingBet)
	Remove(key model.Key)
	Get(key model.Key) (model.PendingBet, bool)
}

// Supervisor is the narrow interface the Ingestor needs from the
// Connection Supervisor to re-subscribe on every connect/reconnect.
type Supervisor interface {
	OnConnected(fn func())
}

// Ingestor subscribes to BetPlaced/BetSettled logs on every
// connect/reconnect and processes them to completion.
type Ingestor struct {
	chain      Chain
	reconciler Reconciler
	store      store.Store
	revealDelay uint64
	logger     *zap.Logger

	dedupe *dedupeSet

	// revealBlockMismatch counts BetPlaced events where the event's
	// own revealBlockFromEvent disagreed with the locally computed
	// value, exposed on /status per §9's diagnostic-counter note.
	revealBlockMismatch int64
}

// New builds an Ingestor.
func New(c Chain, r Reconciler, s store.Store, revealDelay uint64, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		chain:       c,
		reconciler:  r,
		store:       s,
		revealDelay: revealDelay,
		logger:      logger.With(zap.String("component", "ingestor")),
		dedupe:      newDedupeSet(dedupeCapacity),
	}
}

// RevealBlockMismatchCount returns the diagnostic counter for /status.
func (in *Ingestor) RevealBlockMismatchCount() int64 {
	return atomic.LoadInt64(&in.revealBlockMismatch)
}

// AttachTo registers the Ingestor to (re-)subscribe on every
// connected/reconnected signal from the Connection Supervisor.
func (in *Ingestor) AttachTo(ctx context.Context, sup Supervisor) {
	sup.OnConnected(func() {
		go in.subscribeOnce(ctx)
	})
}

func (in *Ingestor) subscribeOnce(ctx context.Context) {
	placedTopic, err := chain.EventTopic0("BetPlaced")
	if err != nil {
		in.logger.Error("resolve BetPlaced topic0 failed", zap.Error(err))
		return
	}
	settledTopic, err := chain.EventTopic0("BetSettled")
	if err != nil {
		in.logger.Error("resolve BetSettled topic0 failed", zap.Error(err))
		return
	}

	placedCh := make(chan types.Log, 256)
	settledCh := make(chan types.Log, 256)

	placedSub, err := in.chain.SubscribeLogs(ctx, []common.Hash{placedTopic}, placedCh)
	if err != nil {
		in.logger.Error("subscribe BetPlaced failed", zap.Error(err))
		return
	}
	defer placedSub.Unsubscribe()

	settledSub, err := in.chain.SubscribeLogs(ctx, []common.Hash{settledTopic}, settledCh)
	if err != nil {
		in.logger.Error("subscribe BetSettled failed", zap.Error(err))
		return
	}
	defer settledSub.Unsubscribe()

	in.logger.Info("subscribed to BetPlaced/BetSettled")

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-placedSub.Err():
			in.logger.Warn("BetPlaced subscription ended", zap.Error(err))
			return
		case err := <-settledSub.Err():
			in.logger.Warn("BetSettled subscription ended", zap.Error(err))
			return
		case log := <-placedCh:
			in.handleBetPlaced(ctx, log)
		case log := <-settledCh:
			in.handleBetSettled(ctx, log)
		}
	}
}

func (in *Ingestor) handleBetPlaced(ctx context.Context, log types.Log) {
	decoded, err := decodeBetPlaced(log)
	if err != nil {
		in.logger.Error("decode BetPlaced failed", zap.Error(err))
		return
	}

	currentBlock := in.resolveCurrentBlock(ctx, decoded.BlockNumber)
	localRevealBlock := currentBlock + in.revealDelay

	if decoded.RevealBlockFromTx != 0 && decoded.RevealBlockFromTx != localRevealBlock {
		atomic.AddInt64(&in.revealBlockMismatch, 1)
		in.logger.Warn("reveal block mismatch between event and local computation",
			zap.Uint64("event_reveal_block", decoded.RevealBlockFromTx),
			zap.Uint64("local_reveal_block", localRevealBlock),
		)

		if bet, err := in.chain.PlayerBets(ctx, decoded.RoomID, decoded.Player); err != nil {
			in.logger.Warn("reveal block mismatch: playerBets lookup failed, keeping local computation",
				zap.Error(err))
		} else {
			authoritative := bet.CommitBlock + in.revealDelay
			in.logger.Warn("reveal block mismatch resolved against contract state",
				zap.Uint64("contract_commit_block", bet.CommitBlock),
				zap.Uint64("authoritative_reveal_block", authoritative),
			)
			localRevealBlock = authoritative
		}
	}

	header, err := in.chain.GetBlock(ctx, decoded.BlockNumber)
	var blockTimestamp uint64
	if err != nil {
		in.logger.Warn("fetch block header for timestamp failed, recording zero timestamp", zap.Error(err))
	} else {
		blockTimestamp = header.Time
	}

	key := model.Key{RoomID: decoded.RoomID, Player: lowerHex(decoded.Player)}

	record := model.EventRecord{
		EventType:         model.EventBetPlaced,
		RoomID:            decoded.RoomID,
		Player:            key.Player,
		BlockNumber:       decoded.BlockNumber,
		BlockTimestamp:    blockTimestamp,
		LogIndex:          decoded.LogIndex,
		TransactionHash:   decoded.TransactionHash.Hex(),
		CreatedAt:         time.Now().UTC(),
		AmountWei:         decoded.AmountWei.String(),
		BetBig:            decoded.BetBig,
		CommitBlock:       decoded.CommitBlockFromTx,
		RevealBlockFromTx: decoded.RevealBlockFromTx,
	}

	if _, err := in.store.Append(ctx, record); err != nil {
		in.logger.Error("persist BetPlaced failed, continuing", zap.Error(err), zap.String("key", key.String()))
	}

	in.reconciler.Upsert(model.PendingBet{
		Key:         key,
		AmountWei:   decoded.AmountWei.String(),
		BetBig:      decoded.BetBig,
		CommitBlock: decoded.CommitBlockFromTx,
		RevealBlock: localRevealBlock,
		TxHash:      decoded.TransactionHash.Hex(),
		ObservedAt:  time.Now().UTC(),
	})

	in.logger.Info("BetPlaced observed",
		zap.String("key", key.String()),
		zap.Uint64("reveal_block", localRevealBlock),
	)
}

// resolveCurrentBlock prefers the log's own block number, falling
// back to a live query, falling back to a wall-clock estimate only as
// a last resort per §4.C step 2.
func (in *Ingestor) resolveCurrentBlock(ctx context.Context, eventBlockNumber uint64) uint64 {
	if eventBlockNumber != 0 {
		return eventBlockNumber
	}

	if live, err := in.chain.BlockNumber(ctx); err == nil {
		return live
	}

	in.logger.Warn("falling back to wall-clock block estimate")
	return uint64(time.Now().Unix())
}

func (in *Ingestor) handleBetSettled(ctx context.Context, log types.Log) {
	txHash := log.TxHash.Hex()
	if in.dedupe.seenOrAdd(txHash) {
		in.logger.Debug("duplicate BetSettled dropped", zap.String("tx_hash", txHash))
		return
	}

	decoded, err := decodeBetSettled(log)
	if err != nil {
		in.logger.Error("decode BetSettled failed", zap.Error(err))
		return
	}

	key := model.Key{RoomID: decoded.RoomID, Player: lowerHex(decoded.Player)}

	pending, hadPending := in.reconciler.Get(key)
	in.reconciler.Remove(key)

	var stakeAmount string
	var betBig bool
	var resultBlock uint64
	if hadPending {
		stakeAmount = pending.AmountWei
		betBig = pending.BetBig
		resultBlock = pending.RevealBlock
	}

	// The settled event's amount field is the reward when won, zero
	// otherwise; the stake must come from the prior commit.
	rewardAmount := "0"
	if decoded.Won {
		rewardAmount = decoded.AmountWei.String()
	}

	record := model.EventRecord{
		EventType:       model.EventBetSettled,
		RoomID:          decoded.RoomID,
		Player:          key.Player,
		BlockNumber:     decoded.BlockNumber,
		LogIndex:        decoded.LogIndex,
		TransactionHash: txHash,
		CreatedAt:       time.Now().UTC(),
		AmountWei:       stakeAmount,
		BetBig:          betBig,
		RewardAmountWei: rewardAmount,
		Won:             decoded.Won,
		HashValue:       decoded.HashValue,
		BlockHash:       decoded.BlockHash.Hex(),
		ResultBlock:     resultBlock,
		BetID:           decoded.BetID.String(),
	}

	settledID, err := in.store.Append(ctx, record)
	if err != nil {
		in.logger.Error("persist BetSettled failed, continuing", zap.Error(err), zap.String("key", key.String()))
		return
	}

	in.correlate(ctx, key, settledID)

	in.logger.Info("BetSettled observed",
		zap.String("key", key.String()),
		zap.Bool("won", decoded.Won),
		zap.Bool("had_pending", hadPending),
	)
}

// correlate finds the most recent unprocessed BetPlaced for the key
// and links it to the freshly-appended BetSettled record. Missing
// correlation (a restart-induced orphan) is logged and otherwise
// harmless per §4.C step 5 / §7's "Missing correlation" policy.
func (in *Ingestor) correlate(ctx context.Context, key model.Key, settledID string) {
	placedType := model.EventBetPlaced
	unprocessed := false
	roomID := key.RoomID
	player := key.Player

	placed, ok, err := in.store.FindOne(ctx, store.EventQuery{
		EventType: &placedType,
		RoomID:    &roomID,
		Player:    &player,
		Processed: &unprocessed,
	}, store.SortDescending)
	if err != nil {
		in.logger.Error("correlate: lookup BetPlaced failed", zap.Error(err), zap.String("key", key.String()))
		return
	}
	if !ok {
		in.logger.Info("orphan settlement: no matching BetPlaced found", zap.String("key", key.String()))
		return
	}

	if err := in.store.UpdateLink(ctx, placed.ID, settledID); err != nil {
		in.logger.Error("correlate: update link failed", zap.Error(err), zap.String("key", key.String()))
	}
}

func lowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
