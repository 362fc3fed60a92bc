// Package device defines presence records for other clients syncing the
// same account. Presence is informational and never affects sync outcomes.
package device

import "time"

// Device is another client seen recently on the same account.
type Device struct {
	ID         string    `json:"id"`           // Stable device identifier
	Label      string    `json:"label"`        // Human readable name, e.g. hostname
	LastSeenAt time.Time `json:"last_seen_at"` // Last heartbeat
}

// IsStale reports whether the device has not been seen within ttl.
func (d Device) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(d.LastSeenAt) > ttl
}
