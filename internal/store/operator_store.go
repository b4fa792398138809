package store

import (
	"context"

	"github.com/RezaEskandarii/shotfire/types"
)

// OperatorStore keeps admin accounts. Passwords are stored as bcrypt hashes.
type OperatorStore interface {
	// Upsert creates the operator or replaces its password.
	Upsert(ctx context.Context, username, password string) (int64, error)

	// Authenticate reports whether username exists and password matches its hash.
	Authenticate(ctx context.Context, username, password string) (bool, error)

	List(ctx context.Context) ([]types.Operator, error)

	// Delete removes the operator. It returns ErrOperatorNotFound when nothing was deleted.
	Delete(ctx context.Context, username string) error
}
