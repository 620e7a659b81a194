package model

import "fmt"

// Key identifies a commit-reveal bet by the pair the contract enforces
// uniqueness on: at most one open bet per (roomId, player).
type Key struct {
	RoomID uint32
	Player string // lower-cased hex address
}

func (k Key) String() string {
	return fmt.Sprintf("%d-%s", k.RoomID, k.Player)
}
