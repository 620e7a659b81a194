package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"settler/internal/model"
	"settler/internal/store"
)

func TestBuildWhereEmptyQuery(t *testing.T) {
	where, args := buildWhere(store.EventQuery{})
	assert.Equal(t, "", where)
	assert.Empty(t, args)
}

func TestBuildWhereCombinesClausesWithAnd(t *testing.T) {
	eventType := model.EventBetPlaced
	roomID := uint32(7)
	player := "0xaaa"

	where, args := buildWhere(store.EventQuery{EventType: &eventType, RoomID: &roomID, Player: &player})

	assert.Equal(t, "WHERE event_type = $1 AND room_id = $2 AND player = $3", where)
	assert.Equal(t, []interface{}{string(model.EventBetPlaced), roomID, player}, args)
}

func TestBuildFindQueryAppliesSortLimitOffset(t *testing.T) {
	sql, args := buildFindQuery(store.EventQuery{}, store.SortAscending, 10, 20)

	assert.Contains(t, sql, "ORDER BY block_number ASC")
	assert.Contains(t, sql, "LIMIT $1")
	assert.Contains(t, sql, "OFFSET $2")
	assert.Equal(t, []interface{}{20, 10}, args)
}

func TestBuildFindQueryDefaultsToDescending(t *testing.T) {
	sql, _ := buildFindQuery(store.EventQuery{}, store.SortDescending, 0, 0)
	assert.Contains(t, sql, "ORDER BY block_number DESC")
	assert.NotContains(t, sql, "LIMIT")
	assert.NotContains(t, sql, "OFFSET")
}

func TestNullableString(t *testing.T) {
	assert.Nil(t, nullableString(""))
	got := nullableString("0x1")
	if assert.NotNil(t, got) {
		assert.Equal(t, "0x1", *got)
	}
}
