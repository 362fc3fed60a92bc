// Package devices lists the other clients syncing the same account.
//
// Presence is best effort: a failing presence source yields an empty list and
// a warning, never an error that could affect sync.
package devices

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jbctechsolutions/tempo/internal/application/ports"
	"github.com/jbctechsolutions/tempo/internal/domain/device"
	"github.com/jbctechsolutions/tempo/internal/domain/status"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

const (
	DefaultLookupTimeout     = 3 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTTL               = 2 * time.Minute
)

// StatusUpdater receives the connected device count.
type StatusUpdater interface {
	Update(mutate func(s *status.Snapshot)) bool
}

// Config holds the registry dependencies. Source may be nil when presence is
// disabled.
type Config struct {
	Source            ports.PresenceSourcePort
	Self              device.Device
	LookupTimeout     time.Duration
	HeartbeatInterval time.Duration
	TTL               time.Duration
	Status            StatusUpdater
	Logger            *logging.Logger
	Now               func() time.Time
}

// Registry is a read-through view over a presence source.
type Registry struct {
	source   ports.PresenceSourcePort
	self     device.Device
	timeout  time.Duration
	interval time.Duration
	ttl      time.Duration
	status   StatusUpdater
	logger   *logging.Logger
	now      func() time.Time

	group singleflight.Group
}

// New creates a registry.
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Registry{
		source:   cfg.Source,
		self:     cfg.Self,
		timeout:  cfg.LookupTimeout,
		interval: cfg.HeartbeatInterval,
		ttl:      cfg.TTL,
		status:   cfg.Status,
		logger:   cfg.Logger.With("component", "devices"),
		now:      cfg.Now,
	}
}

// Self returns the device this registry announces.
func (r *Registry) Self() device.Device {
	return r.self
}

// ListConnectedDevices returns the other devices seen within the TTL, most
// recently seen first. Concurrent calls share one lookup.
func (r *Registry) ListConnectedDevices(ctx context.Context) []device.Device {
	if r.source == nil {
		return []device.Device{}
	}

	// The shared lookup outlives any one caller; each caller still stops
	// waiting when its own context ends.
	ch := r.group.DoChan("list", func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.source.List(lookupCtx)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "presence lookup abandoned", "error", ctx.Err())
		return []device.Device{}
	}
	if res.Err != nil {
		r.logger.WarnContext(ctx, "presence lookup failed", "error", res.Err)
		return []device.Device{}
	}
	v := res.Val

	now := r.now()
	all, _ := v.([]device.Device)
	out := make([]device.Device, 0, len(all))
	for _, d := range all {
		if d.ID == r.self.ID || d.IsStale(now, r.ttl) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Heartbeat announces this device to the presence source.
func (r *Registry) Heartbeat(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	d := r.self
	d.LastSeenAt = r.now()

	hbCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.source.Announce(hbCtx, d)
}

// Refresh looks up connected devices and publishes their count.
func (r *Registry) Refresh(ctx context.Context) int {
	n := len(r.ListConnectedDevices(ctx))
	if r.status != nil {
		r.status.Update(func(s *status.Snapshot) { s.ConnectedDevices = n })
	}
	return n
}

// Run heartbeats and refreshes the device count until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.source == nil {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "presence heartbeat failed", "error", err)
		}
		r.Refresh(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
