package model

import "time"

// PendingBet is a commitment awaiting settlement, keyed by the
// (roomId, player) pair the contract enforces uniqueness on.
type PendingBet struct {
	Key         Key
	AmountWei   string
	BetBig      bool
	CommitBlock uint64
	RevealBlock uint64
	TxHash      string
	ObservedAt  time.Time
}
