package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDiceABIParsesEventsAndMethods(t *testing.T) {
	abiObj, err := DiceABI()
	if err != nil {
		t.Fatalf("DiceABI: %v", err)
	}

	for _, name := range []string{"BetPlaced", "BetSettled"} {
		if _, ok := abiObj.Events[name]; !ok {
			t.Fatalf("missing event %s", name)
		}
	}
	for _, name := range []string{"settleBet", "revealDelay", "playerBets"} {
		if _, ok := abiObj.Methods[name]; !ok {
			t.Fatalf("missing method %s", name)
		}
	}
}

func TestEventTopic0KnownAndUnknown(t *testing.T) {
	topic, err := EventTopic0("BetPlaced")
	if err != nil {
		t.Fatalf("EventTopic0(BetPlaced): %v", err)
	}
	if topic == (common.Hash{}) {
		t.Fatalf("expected non-zero topic0")
	}

	if _, err := EventTopic0("NoSuchEvent"); err == nil {
		t.Fatalf("expected error for unknown event")
	}
}

func TestDiceABISingletonIsStable(t *testing.T) {
	first, err := DiceABI()
	if err != nil {
		t.Fatalf("DiceABI: %v", err)
	}
	second, err := DiceABI()
	if err != nil {
		t.Fatalf("DiceABI: %v", err)
	}
	if len(first.Events) != len(second.Events) {
		t.Fatalf("expected stable ABI across calls")
	}
}
