package concourse

import "context"

// EventStore is an append-only store of streams keyed by aggregate tag and id.
//
// Append accepts events in any order, including events that are causally
// before events already stored. Either every event of the batch becomes
// visible or, on error, none does. A stream never holds two events with equal
// timestamps; such a batch is rejected with a *StoreError wrapping
// ErrDuplicateTimestamp.
//
// Load returns, for every requested id, its events ascending by timestamp.
// Ids without events map to an empty stream.
type EventStore interface {
	Append(ctx context.Context, batch []Event) error
	Load(ctx context.Context, tag Tag, ids ...AggregateID) (map[AggregateID]Stream, error)
}

// Catalogue lists the aggregates that have at least one event
type Catalogue interface {
	AggregateIDs(ctx context.Context, tag Tag) ([]AggregateID, error)
}

// Codec serializes event variants for durable stores and publishers. Decode
// resolves the variant by tag and name.
type Codec interface {
	Encode(v Variant) ([]byte, error)
	Decode(tag Tag, name string, data []byte) (Variant, error)
}
