package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// diceABIJSON carries only the surface this service touches: the two
// events it subscribes to and the three methods it calls. Loaded from
// a JSON constant the way the teacher loads v3PoolABIJSON, rather than
// checking in an abigen binding.
const diceABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint32", "name": "roomId", "type": "uint32"},
      {"indexed": true, "internalType": "address", "name": "player", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "bool", "name": "betBig", "type": "bool"},
      {"indexed": false, "internalType": "uint256", "name": "commitBlock", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "revealBlock", "type": "uint256"}
    ],
    "name": "BetPlaced",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint32", "name": "roomId", "type": "uint32"},
      {"indexed": true, "internalType": "address", "name": "player", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "bool", "name": "won", "type": "bool"},
      {"indexed": false, "internalType": "uint8", "name": "hashValue", "type": "uint8"},
      {"indexed": false, "internalType": "bytes32", "name": "blockHash", "type": "bytes32"},
      {"indexed": false, "internalType": "uint256", "name": "betId", "type": "uint256"}
    ],
    "name": "BetSettled",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "uint32", "name": "roomId", "type": "uint32"},
      {"internalType": "address", "name": "player", "type": "address"}
    ],
    "name": "settleBet",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "revealDelay",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint32", "name": "roomId", "type": "uint32"},
      {"internalType": "address", "name": "player", "type": "address"}
    ],
    "name": "playerBets",
    "outputs": [
      {"internalType": "uint256", "name": "amount", "type": "uint256"},
      {"internalType": "bool", "name": "betBig", "type": "bool"},
      {"internalType": "uint256", "name": "commitBlock", "type": "uint256"},
      {"internalType": "bool", "name": "settled", "type": "bool"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	diceABI     abi.ABI
	diceABIOnce sync.Once
	diceABIErr  error
)

// DiceABI returns the parsed ABI for the settler's target contract.
func DiceABI() (abi.ABI, error) {
	diceABIOnce.Do(func() {
		diceABI, diceABIErr = abi.JSON(strings.NewReader(diceABIJSON))
	})
	return diceABI, diceABIErr
}

// EventTopic0 returns the log topic0 hash for a named event in the ABI.
func EventTopic0(name string) (common.Hash, error) {
	parsed, err := DiceABI()
	if err != nil {
		return common.Hash{}, err
	}
	event, ok := parsed.Events[name]
	if !ok {
		return common.Hash{}, errUnknownEvent(name)
	}
	return event.ID, nil
}

type unknownEventError string

func (e unknownEventError) Error() string { return "unknown event: " + string(e) }

func errUnknownEvent(name string) error { return unknownEventError(name) }
