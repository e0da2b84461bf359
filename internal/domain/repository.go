package domain

import "context"

// PartitionStore provisions and opens partitions.
// EnsurePartition must be idempotent: concurrent first calls for the same key
// have to succeed and refer to the same logical partition.
type PartitionStore interface {
	// EnsurePartition creates the partition if it does not exist and returns its handle.
	EnsurePartition(ctx context.Context, key PartitionKey) (Partition, error)

	// OpenPartition returns a handle to an existing partition or ErrPartitionNotFound.
	OpenPartition(ctx context.Context, key PartitionKey) (Partition, error)

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
}

// Partition is a handle to a single event store.
type Partition interface {
	Key() PartitionKey

	// Insert persists one event. Re-inserting an event with the same ID is a no-op
	// where the backend can detect it.
	Insert(ctx context.Context, event Event) error

	// List returns matching events newest first.
	List(ctx context.Context, filter Filter, page Page) ([]Event, error)

	Count(ctx context.Context, filter Filter) (int64, error)

	// CountUnique counts distinct non-null hashed addresses.
	CountUnique(ctx context.Context, filter Filter) (int64, error)

	// UniqueHashes lists distinct non-null hashed addresses in ascending order.
	UniqueHashes(ctx context.Context, filter Filter) ([]string, error)
}
