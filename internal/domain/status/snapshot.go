// Package status defines the point-in-time summary of sync health that is
// broadcast to subscribers.
package status

import "time"

// Snapshot is an immutable sync status value. Producers build a new snapshot
// for every change instead of mutating a shared one.
type Snapshot struct {
	IsOnline         bool       `json:"is_online"`
	IsSyncing        bool       `json:"is_syncing"`
	PendingChanges   int        `json:"pending_changes"`
	Conflicts        int        `json:"conflicts"`
	LastSyncTime     *time.Time `json:"last_sync_time,omitempty"`
	ConnectedDevices int        `json:"connected_devices"`
}

// Equal reports whether s and other describe the same state.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.IsOnline != other.IsOnline ||
		s.IsSyncing != other.IsSyncing ||
		s.PendingChanges != other.PendingChanges ||
		s.Conflicts != other.Conflicts ||
		s.ConnectedDevices != other.ConnectedDevices {
		return false
	}
	switch {
	case s.LastSyncTime == nil && other.LastSyncTime == nil:
		return true
	case s.LastSyncTime == nil || other.LastSyncTime == nil:
		return false
	default:
		return s.LastSyncTime.Equal(*other.LastSyncTime)
	}
}

// Copy returns a snapshot that shares no pointers with s.
func (s Snapshot) Copy() Snapshot {
	if s.LastSyncTime != nil {
		t := *s.LastSyncTime
		s.LastSyncTime = &t
	}
	return s
}

// Label returns a short human readable state.
func (s Snapshot) Label() string {
	switch {
	case !s.IsOnline:
		return "offline"
	case s.IsSyncing:
		return "syncing"
	case s.Conflicts > 0:
		return "conflicts"
	case s.PendingChanges > 0:
		return "pending"
	default:
		return "synced"
	}
}
