package ingest

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"settler/internal/chain"
)

func topicFromUint32(v uint32) common.Hash {
	var h common.Hash
	h[28] = byte(v >> 24)
	h[29] = byte(v >> 16)
	h[30] = byte(v >> 8)
	h[31] = byte(v)
	return h
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func TestDecodeBetPlaced(t *testing.T) {
	abiObj, err := chain.DiceABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	player := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data, err := abiObj.Events["BetPlaced"].Inputs.NonIndexed().Pack(
		big.NewInt(1000000000000000000),
		true,
		big.NewInt(100),
		big.NewInt(103),
	)
	if err != nil {
		t.Fatalf("pack BetPlaced: %v", err)
	}

	log := types.Log{
		Topics: []common.Hash{
			abiObj.Events["BetPlaced"].ID,
			topicFromUint32(42),
			topicFromAddress(player),
		},
		Data:        data,
		BlockNumber: 100,
		Index:       3,
		TxHash:      common.HexToHash("0xaa"),
	}

	decoded, err := decodeBetPlaced(log)
	if err != nil {
		t.Fatalf("decodeBetPlaced: %v", err)
	}

	if decoded.RoomID != 42 {
		t.Fatalf("roomID = %d, want 42", decoded.RoomID)
	}
	if decoded.Player != player {
		t.Fatalf("player = %s, want %s", decoded.Player.Hex(), player.Hex())
	}
	if !decoded.BetBig {
		t.Fatalf("betBig = false, want true")
	}
	if decoded.CommitBlockFromTx != 100 || decoded.RevealBlockFromTx != 103 {
		t.Fatalf("commit/reveal block mismatch: %+v", decoded)
	}
	if decoded.AmountWei.Cmp(big.NewInt(1000000000000000000)) != 0 {
		t.Fatalf("amount mismatch: %s", decoded.AmountWei)
	}
}

func TestDecodeBetSettled(t *testing.T) {
	abiObj, err := chain.DiceABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	player := common.HexToAddress("0x2222222222222222222222222222222222222222")
	blockHash := common.HexToHash("0xbeef")
	data, err := abiObj.Events["BetSettled"].Inputs.NonIndexed().Pack(
		big.NewInt(2000000000000000000),
		true,
		uint8(7),
		[32]byte(blockHash),
		big.NewInt(55),
	)
	if err != nil {
		t.Fatalf("pack BetSettled: %v", err)
	}

	log := types.Log{
		Topics: []common.Hash{
			abiObj.Events["BetSettled"].ID,
			topicFromUint32(9),
			topicFromAddress(player),
		},
		Data:        data,
		BlockNumber: 200,
		Index:       1,
		TxHash:      common.HexToHash("0xcc"),
	}

	decoded, err := decodeBetSettled(log)
	if err != nil {
		t.Fatalf("decodeBetSettled: %v", err)
	}

	if decoded.RoomID != 9 {
		t.Fatalf("roomID = %d, want 9", decoded.RoomID)
	}
	if !decoded.Won {
		t.Fatalf("won = false, want true")
	}
	if decoded.HashValue != 7 {
		t.Fatalf("hashValue = %d, want 7", decoded.HashValue)
	}
	if decoded.BlockHash != blockHash {
		t.Fatalf("blockHash mismatch: %s", decoded.BlockHash.Hex())
	}
	if decoded.BetID.Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("betID mismatch: %s", decoded.BetID)
	}
}

func TestDecodeBetPlacedRejectsMissingTopics(t *testing.T) {
	log := types.Log{Topics: []common.Hash{{}}}
	if _, err := decodeBetPlaced(log); err == nil {
		t.Fatalf("expected error for insufficient topics")
	}
}
