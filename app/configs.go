package app

import (
	"github.com/google/uuid"

	"github.com/RezaEskandarii/shotfire/internal/constants"
	"github.com/RezaEskandarii/shotfire/types/config"
)

// lockOwners derives the lock owner ids of this process. The worker id carries
// a random suffix so two processes started with the same instance name never
// mistake each other's locks for their own.
func lockOwners(cfg *config.Config) (workerID, recoveryID string) {
	suffix := uuid.NewString()[:8]
	return cfg.Instance + "/worker-" + suffix, cfg.Instance + "/" + constants.RecoveryOwner + "-" + suffix
}
