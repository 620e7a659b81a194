package ingest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"settler/internal/chain"
)

// decodedBetPlaced is the decoded (roomId, player, amountWei, betBig,
// commitBlockFromEvent, revealBlockFromEvent) tuple plus log metadata.
type decodedBetPlaced struct {
	RoomID              uint32
	Player              common.Address
	AmountWei           *big.Int
	BetBig              bool
	CommitBlockFromTx   uint64
	RevealBlockFromTx   uint64
	BlockNumber         uint64
	LogIndex            uint64
	TransactionHash     common.Hash
}

type decodedBetSettled struct {
	RoomID          uint32
	Player          common.Address
	AmountWei       *big.Int
	Won             bool
	HashValue       uint8
	BlockHash       common.Hash
	BetID           *big.Int
	BlockNumber     uint64
	LogIndex        uint64
	TransactionHash common.Hash
}

func decodeBetPlaced(log types.Log) (decodedBetPlaced, error) {
	if len(log.Topics) < 3 {
		return decodedBetPlaced{}, fmt.Errorf("BetPlaced: expected 3 topics, got %d", len(log.Topics))
	}

	parsed, err := chain.DiceABI()
	if err != nil {
		return decodedBetPlaced{}, err
	}

	values, err := parsed.Unpack("BetPlaced", log.Data)
	if err != nil {
		return decodedBetPlaced{}, fmt.Errorf("unpack BetPlaced: %w", err)
	}
	if len(values) < 4 {
		return decodedBetPlaced{}, fmt.Errorf("BetPlaced: expected 4 non-indexed fields, got %d", len(values))
	}

	amount, ok := values[0].(*big.Int)
	if !ok {
		return decodedBetPlaced{}, fmt.Errorf("BetPlaced: unexpected amount type %T", values[0])
	}
	betBig, _ := values[1].(bool)
	commitBlock, ok := values[2].(*big.Int)
	if !ok {
		return decodedBetPlaced{}, fmt.Errorf("BetPlaced: unexpected commitBlock type %T", values[2])
	}
	revealBlock, ok := values[3].(*big.Int)
	if !ok {
		return decodedBetPlaced{}, fmt.Errorf("BetPlaced: unexpected revealBlock type %T", values[3])
	}

	return decodedBetPlaced{
		RoomID:            topicToUint32(log.Topics[1]),
		Player:            common.BytesToAddress(log.Topics[2].Bytes()),
		AmountWei:         amount,
		BetBig:            betBig,
		CommitBlockFromTx: commitBlock.Uint64(),
		RevealBlockFromTx: revealBlock.Uint64(),
		BlockNumber:       log.BlockNumber,
		LogIndex:          uint64(log.Index),
		TransactionHash:   log.TxHash,
	}, nil
}

func decodeBetSettled(log types.Log) (decodedBetSettled, error) {
	if len(log.Topics) < 3 {
		return decodedBetSettled{}, fmt.Errorf("BetSettled: expected 3 topics, got %d", len(log.Topics))
	}

	parsed, err := chain.DiceABI()
	if err != nil {
		return decodedBetSettled{}, err
	}

	values, err := parsed.Unpack("BetSettled", log.Data)
	if err != nil {
		return decodedBetSettled{}, fmt.Errorf("unpack BetSettled: %w", err)
	}
	if len(values) < 5 {
		return decodedBetSettled{}, fmt.Errorf("BetSettled: expected 5 non-indexed fields, got %d", len(values))
	}

	amount, ok := values[0].(*big.Int)
	if !ok {
		return decodedBetSettled{}, fmt.Errorf("BetSettled: unexpected amount type %T", values[0])
	}
	won, _ := values[1].(bool)
	hashValue, ok := values[2].(uint8)
	if !ok {
		return decodedBetSettled{}, fmt.Errorf("BetSettled: unexpected hashValue type %T", values[2])
	}
	blockHash, ok := values[3].([32]byte)
	if !ok {
		return decodedBetSettled{}, fmt.Errorf("BetSettled: unexpected blockHash type %T", values[3])
	}
	betID, ok := values[4].(*big.Int)
	if !ok {
		return decodedBetSettled{}, fmt.Errorf("BetSettled: unexpected betId type %T", values[4])
	}

	return decodedBetSettled{
		RoomID:          topicToUint32(log.Topics[1]),
		Player:          common.BytesToAddress(log.Topics[2].Bytes()),
		AmountWei:       amount,
		Won:             won,
		HashValue:       hashValue,
		BlockHash:       common.BytesToHash(blockHash[:]),
		BetID:           betID,
		BlockNumber:     log.BlockNumber,
		LogIndex:        uint64(log.Index),
		TransactionHash: log.TxHash,
	}, nil
}

func topicToUint32(topic common.Hash) uint32 {
	b := topic.Bytes()
	return uint32(b[28])<<24 | uint32(b[29])<<16 | uint32(b[30])<<8 | uint32(b[31])
}
