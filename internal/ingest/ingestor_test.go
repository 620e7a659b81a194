package ingest

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"settler/internal/chain"
	"settler/internal/model"
	"settler/internal/store"
	"settler/internal/store/memstore"
)

type fakeIngestChain struct {
	blockNumber uint64
	blockNumErr error
	header      chain.BlockHeader
	headerErr   error

	playerBets    chain.PlayerBetsResult
	playerBetsErr error
	playerBetsArgs []struct {
		roomID uint32
		player common.Address
	}
}

func (f *fakeIngestChain) SubscribeLogs(context.Context, []common.Hash, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, nil
}

func (f *fakeIngestChain) BlockNumber(context.Context) (uint64, error) {
	return f.blockNumber, f.blockNumErr
}

func (f *fakeIngestChain) GetBlock(context.Context, uint64) (chain.BlockHeader, error) {
	return f.header, f.headerErr
}

func (f *fakeIngestChain) PlayerBets(_ context.Context, roomID uint32, player common.Address) (chain.PlayerBetsResult, error) {
	f.playerBetsArgs = append(f.playerBetsArgs, struct {
		roomID uint32
		player common.Address
	}{roomID, player})
	return f.playerBets, f.playerBetsErr
}

type fakeIngestReconciler struct {
	upserted []model.PendingBet
	removed  []model.Key
	get      map[model.Key]model.PendingBet
}

func newFakeIngestReconciler() *fakeIngestReconciler {
	return &fakeIngestReconciler{get: make(map[model.Key]model.PendingBet)}
}

func (r *fakeIngestReconciler) Upsert(pb model.PendingBet) {
	r.upserted = append(r.upserted, pb)
	r.get[pb.Key] = pb
}

func (r *fakeIngestReconciler) Remove(key model.Key) {
	r.removed = append(r.removed, key)
	delete(r.get, key)
}

func (r *fakeIngestReconciler) Get(key model.Key) (model.PendingBet, bool) {
	pb, ok := r.get[key]
	return pb, ok
}

func placedLog(roomID uint32, player common.Address, amount, commitBlock, revealBlock *big.Int, betBig bool, blockNumber uint64) types.Log {
	abiObj, _ := chain.DiceABI()
	data, _ := abiObj.Events["BetPlaced"].Inputs.NonIndexed().Pack(amount, betBig, commitBlock, revealBlock)
	return types.Log{
		Topics: []common.Hash{
			abiObj.Events["BetPlaced"].ID,
			topicFromUint32(roomID),
			topicFromAddress(player),
		},
		Data:        data,
		BlockNumber: blockNumber,
		Index:       0,
		TxHash:      common.HexToHash("0xaa"),
	}
}

func settledLog(roomID uint32, player common.Address, amount *big.Int, won bool, hashValue uint8, betID *big.Int, blockNumber uint64, txHash common.Hash) types.Log {
	abiObj, _ := chain.DiceABI()
	data, _ := abiObj.Events["BetSettled"].Inputs.NonIndexed().Pack(amount, won, hashValue, [32]byte(common.HexToHash("0xbeef")), betID)
	return types.Log{
		Topics: []common.Hash{
			abiObj.Events["BetSettled"].ID,
			topicFromUint32(roomID),
			topicFromAddress(player),
		},
		Data:        data,
		BlockNumber: blockNumber,
		Index:       1,
		TxHash:      txHash,
	}
}

func TestHandleBetPlacedUpsertsAndPersists(t *testing.T) {
	player := common.HexToAddress("0x1111111111111111111111111111111111111111")
	c := &fakeIngestChain{header: chain.BlockHeader{Time: 12345}}
	reconciler := newFakeIngestReconciler()
	st := memstore.New()

	in := New(c, reconciler, st, 3, zap.NewNop())

	log := placedLog(1, player, big.NewInt(1e9), big.NewInt(100), big.NewInt(103), true, 100)
	in.handleBetPlaced(context.Background(), log)

	require.Len(t, reconciler.upserted, 1)
	key := model.Key{RoomID: 1, Player: "0x1111111111111111111111111111111111111111"}
	assert.Equal(t, key, reconciler.upserted[0].Key)
	assert.Equal(t, uint64(103), reconciler.upserted[0].RevealBlock)

	count, err := st.Count(context.Background(), store.EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestHandleBetPlacedRecordsMismatchDiagnostic(t *testing.T) {
	player := common.HexToAddress("0x1111111111111111111111111111111111111111")
	c := &fakeIngestChain{
		playerBets: chain.PlayerBetsResult{CommitBlock: 100},
	}
	reconciler := newFakeIngestReconciler()
	st := memstore.New()

	in := New(c, reconciler, st, 3, zap.NewNop())

	// Event claims revealBlock 999, but locally computed is 100+3=103.
	log := placedLog(1, player, big.NewInt(1), big.NewInt(100), big.NewInt(999), false, 100)
	in.handleBetPlaced(context.Background(), log)

	assert.Equal(t, int64(1), in.RevealBlockMismatchCount())
	require.Len(t, c.playerBetsArgs, 1)
	assert.Equal(t, uint32(1), c.playerBetsArgs[0].roomID)
	assert.Equal(t, player, c.playerBetsArgs[0].player)

	// The contract's commitBlock (100) + revealDelay (3) confirms the
	// locally computed value, so the pending bet keeps it.
	require.Len(t, reconciler.upserted, 1)
	assert.Equal(t, uint64(103), reconciler.upserted[0].RevealBlock)
}

func TestHandleBetPlacedMismatchUsesContractCommitBlockWhenLocalIsStale(t *testing.T) {
	player := common.HexToAddress("0x1111111111111111111111111111111111111111")
	c := &fakeIngestChain{
		playerBets: chain.PlayerBetsResult{CommitBlock: 200},
	}
	reconciler := newFakeIngestReconciler()
	st := memstore.New()

	in := New(c, reconciler, st, 3, zap.NewNop())

	log := placedLog(1, player, big.NewInt(1), big.NewInt(100), big.NewInt(999), false, 100)
	in.handleBetPlaced(context.Background(), log)

	require.Len(t, reconciler.upserted, 1)
	assert.Equal(t, uint64(203), reconciler.upserted[0].RevealBlock)
}

func TestHandleBetPlacedMismatchKeepsLocalWhenPlayerBetsFails(t *testing.T) {
	player := common.HexToAddress("0x1111111111111111111111111111111111111111")
	c := &fakeIngestChain{
		playerBetsErr: assertError("call reverted"),
	}
	reconciler := newFakeIngestReconciler()
	st := memstore.New()

	in := New(c, reconciler, st, 3, zap.NewNop())

	log := placedLog(1, player, big.NewInt(1), big.NewInt(100), big.NewInt(999), false, 100)
	in.handleBetPlaced(context.Background(), log)

	require.Len(t, reconciler.upserted, 1)
	assert.Equal(t, uint64(103), reconciler.upserted[0].RevealBlock)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestHandleBetSettledDedupesByTxHash(t *testing.T) {
	player := common.HexToAddress("0x2222222222222222222222222222222222222222")
	c := &fakeIngestChain{}
	reconciler := newFakeIngestReconciler()
	st := memstore.New()
	in := New(c, reconciler, st, 3, zap.NewNop())

	txHash := common.HexToHash("0xdead")
	log := settledLog(1, player, big.NewInt(500), true, 7, big.NewInt(1), 200, txHash)

	in.handleBetSettled(context.Background(), log)
	in.handleBetSettled(context.Background(), log)

	count, err := st.Count(context.Background(), store.EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestHandleBetSettledRemovesPendingAndPersistsOrphan(t *testing.T) {
	player := common.HexToAddress("0x3333333333333333333333333333333333333333")
	c := &fakeIngestChain{header: chain.BlockHeader{Time: 1}}
	reconciler := newFakeIngestReconciler()
	st := memstore.New()
	in := New(c, reconciler, st, 3, zap.NewNop())

	key := model.Key{RoomID: 1, Player: "0x3333333333333333333333333333333333333333"}
	reconciler.Upsert(model.PendingBet{Key: key, AmountWei: "1000", BetBig: true, RevealBlock: 103})

	log := settledLog(1, player, big.NewInt(2000), true, 9, big.NewInt(1), 200, common.HexToHash("0xbb"))
	in.handleBetSettled(context.Background(), log)

	require.Len(t, reconciler.removed, 1)
	assert.Equal(t, key, reconciler.removed[0])

	// No matching BetPlaced was persisted, so correlation is a no-op
	// orphan settlement rather than an error.
	count, err := st.Count(context.Background(), store.EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestResolveCurrentBlockPrefersEventBlockNumber(t *testing.T) {
	c := &fakeIngestChain{blockNumber: 999}
	in := New(c, newFakeIngestReconciler(), memstore.New(), 3, zap.NewNop())

	got := in.resolveCurrentBlock(context.Background(), 555)
	assert.Equal(t, uint64(555), got)
}

func TestResolveCurrentBlockFallsBackToLiveQuery(t *testing.T) {
	c := &fakeIngestChain{blockNumber: 999}
	in := New(c, newFakeIngestReconciler(), memstore.New(), 3, zap.NewNop())

	got := in.resolveCurrentBlock(context.Background(), 0)
	assert.Equal(t, uint64(999), got)
}
