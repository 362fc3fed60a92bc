package ports

import (
	"context"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
)

// RemoteStorePort is the authoritative store the engine reconciles against.
//
// Implementations report outcomes with the sentinels in the domain errors
// package: ErrRemoteNotFound, ErrRemoteExists, ErrVersionMismatch and
// ErrRemoteRejected. Any other error is treated as transient.
type RemoteStorePort interface {
	// Name returns the backend name, e.g. "http".
	Name() string

	// Fetch returns the current remote state of ref.
	Fetch(ctx context.Context, ref entity.Ref) (*entity.Remote, error)

	// Create stores a new entity under its client-generated ID.
	Create(ctx context.Context, ref entity.Ref, fields entity.Fields) (*entity.Remote, error)

	// Update merges fields onto the remote entity if its current version
	// equals base, and returns the new state.
	Update(ctx context.Context, ref entity.Ref, fields entity.Fields, base entity.Version) (*entity.Remote, error)
}
