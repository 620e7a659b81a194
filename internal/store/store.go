// Package store defines the Event Store contract: append-only
// persistence of decoded events with the secondary indexes and
// correlation queries §4.F requires. Concrete implementations live in
// the postgres and memstore subpackages.
package store

import (
	"context"

	"settler/internal/model"
)

// EventQuery narrows a Find/FindOne/Count call.
type EventQuery struct {
	EventType *model.EventType
	RoomID    *uint32
	Player    *string
	Processed *bool
	BetID     *string
}

// SortOrder selects ascending or descending order on blockNumber.
type SortOrder int

const (
	SortDescending SortOrder = iota
	SortAscending
)

// Store is the Event Store's external contract (§4.F). It is an
// external collaborator in the sense that only the shape is specified
// here; postgres.Store and memstore.Store both satisfy it.
type Store interface {
	// Append persists a new EventRecord and returns its assigned ID.
	Append(ctx context.Context, record model.EventRecord) (string, error)

	// FindOne returns the single record matching query, ordered by
	// blockNumber per sort, or (zero value, false, nil) if none match.
	FindOne(ctx context.Context, query EventQuery, sort SortOrder) (model.EventRecord, bool, error)

	// UpdateLink sets relatedEventId on both records symmetrically and
	// marks both processed = true.
	UpdateLink(ctx context.Context, idA, idB string) error

	// Count returns the number of records matching query.
	Count(ctx context.Context, query EventQuery) (int64, error)

	// Find returns records matching query, sorted by blockNumber desc,
	// paginated by skip/limit.
	Find(ctx context.Context, query EventQuery, skip, limit int) ([]model.EventRecord, error)

	// FindByIDs returns records for the given IDs, in no particular
	// order; missing IDs are simply absent from the result.
	FindByIDs(ctx context.Context, ids []string) ([]model.EventRecord, error)

	// Ping verifies store reachability for the Health Surface.
	Ping(ctx context.Context) error

	// Close releases any underlying connection resources.
	Close()
}
