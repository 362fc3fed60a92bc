package ports

import (
	"context"

	"github.com/jbctechsolutions/tempo/internal/domain/device"
)

// PresenceSourcePort tracks which devices are syncing the same account.
type PresenceSourcePort interface {
	// Announce records a heartbeat for d.
	Announce(ctx context.Context, d device.Device) error

	// List returns devices seen recently, including the caller's own.
	List(ctx context.Context) ([]device.Device, error)
}
