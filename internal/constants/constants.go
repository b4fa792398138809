package constants

// Advisory lock ids. Only schema migration needs a cluster-wide lock; every
// job-level decision goes through the per-job lock in the jobs table.
const (
	MigrationLock = 7301
)

const (
	SchemaName = "shotfire"

	// RecoveryOwner is the lock owner recorded while the scheduler holds a job.
	RecoveryOwner = "recovery"
)
