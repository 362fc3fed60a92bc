package output

import (
	"os"
	"sync"
)

var (
	colorOnce      sync.Once
	colorSupported bool
)

// IsColorSupported reports whether stdout should receive ANSI colors.
// NO_COLOR wins over FORCE_COLOR; otherwise stdout must be a terminal
// with a TERM other than dumb. The answer is computed once per process.
func IsColorSupported() bool {
	colorOnce.Do(func() {
		colorSupported = detectColor(os.LookupEnv, os.Stdout)
	})
	return colorSupported
}

func detectColor(lookup func(string) (string, bool), out *os.File) bool {
	if _, ok := lookup("NO_COLOR"); ok {
		return false
	}
	if _, ok := lookup("FORCE_COLOR"); ok {
		return true
	}
	if term, _ := lookup("TERM"); term == "" || term == "dumb" {
		return false
	}
	if out == nil {
		return false
	}
	info, err := out.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Sync state labels shown next to entities and in status output.
const (
	StateSynced   = "synced"
	StatePending  = "pending"
	StateSyncing  = "syncing"
	StateConflict = "conflict"
	StateRejected = "rejected"
	StateOnline   = "online"
	StateOffline  = "offline"
)

var stateColors = map[string]Color{
	StateSynced:   ColorGreen,
	StateOnline:   ColorGreen,
	StatePending:  ColorYellow,
	StateSyncing:  ColorCyan,
	StateOffline:  ColorYellow,
	StateConflict: ColorRed,
	StateRejected: ColorRed,
}

// State colors a sync state label. Unknown labels are returned unchanged.
func (f *Formatter) State(label string) string {
	if c, ok := stateColors[label]; ok {
		return f.Colorize(label, c)
	}
	return label
}
