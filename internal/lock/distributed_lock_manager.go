package lock

import "context"

// DistributedLockManager serialises cluster-wide one-off work such as schema migration.
type DistributedLockManager interface {
	Acquire(ctx context.Context, lockID int) error
	Release(ctx context.Context, lockID int) error
}
