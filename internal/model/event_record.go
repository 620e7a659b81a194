package model

import "time"

// EventType discriminates the two event kinds the ingestor records.
type EventType string

const (
	EventBetPlaced  EventType = "BetPlaced"
	EventBetSettled EventType = "BetSettled"
)

// EventRecord is the durable representation of a decoded BetPlaced or
// BetSettled log, linked to its counterpart once correlation succeeds.
type EventRecord struct {
	ID              string    `json:"id"`
	EventType       EventType `json:"event_type"`
	RoomID          uint32    `json:"room_id"`
	Player          string    `json:"player"`
	BlockNumber     uint64    `json:"block_number"`
	BlockTimestamp  uint64    `json:"block_timestamp"`
	LogIndex        uint64    `json:"log_index"`
	TransactionHash string    `json:"transaction_hash"`
	CreatedAt       time.Time `json:"created_at"`

	// BetPlaced-only fields.
	AmountWei         string `json:"amount_wei,omitempty"`
	BetBig            bool   `json:"bet_big,omitempty"`
	CommitBlock       uint64 `json:"commit_block,omitempty"`
	RevealBlockFromTx uint64 `json:"reveal_block_from_tx,omitempty"`

	// BetSettled-only fields.
	RewardAmountWei string `json:"reward_amount_wei,omitempty"`
	Won             bool   `json:"won,omitempty"`
	HashValue       uint8  `json:"hash_value,omitempty"`
	BlockHash       string `json:"block_hash,omitempty"`
	ResultBlock     uint64 `json:"result_block,omitempty"`
	BetID           string `json:"bet_id,omitempty"`

	RelatedEventID *string `json:"related_event_id,omitempty"`
	Processed      bool    `json:"processed"`
}

// IsBig applies the spec's resolved hashValue threshold: values of 5
// or above count as "big". The >49 variant seen in one code path is a
// bug and is not reproduced here.
func IsBig(hashValue uint8) bool {
	return hashValue >= 5
}
