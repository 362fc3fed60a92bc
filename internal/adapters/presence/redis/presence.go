// Package redis implements the presence source on a shared Redis server.
//
// Each account owns a sorted set of device IDs scored by last heartbeat in
// unix milliseconds, plus a hash of device labels. Entries older than the TTL
// are trimmed on every announce and both keys expire when nobody announces.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jbctechsolutions/tempo/internal/domain/device"
)

// DefaultKeyPrefix is prepended to every presence key.
const DefaultKeyPrefix = "tempo:presence:"

// DefaultTTL is how long a heartbeat keeps a device listed.
const DefaultTTL = 2 * time.Minute

// Config configures the presence source.
type Config struct {
	UserID    string
	KeyPrefix string
	TTL       time.Duration
	Now       func() time.Time
}

// Source is a ports.PresenceSourcePort backed by Redis.
type Source struct {
	client  goredis.UniversalClient
	members string
	labels  string
	ttl     time.Duration
	now     func() time.Time
}

// New creates a presence source using client.
func New(client goredis.UniversalClient, cfg Config) (*Source, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("user ID is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base := cfg.KeyPrefix + cfg.UserID
	return &Source{
		client:  client,
		members: base + ":devices",
		labels:  base + ":labels",
		ttl:     cfg.TTL,
		now:     cfg.Now,
	}, nil
}

// Dial connects to the server at rawURL, e.g. redis://localhost:6379/0, and
// verifies it answers a PING.
func Dial(ctx context.Context, rawURL string, cfg Config) (*Source, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	src, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return src, nil
}

// Close releases the underlying client.
func (s *Source) Close() error {
	return s.client.Close()
}

// Announce implements ports.PresenceSourcePort.
func (s *Source) Announce(ctx context.Context, d device.Device) error {
	if d.ID == "" {
		return errors.New("device ID is required")
	}
	seen := d.LastSeenAt
	if seen.IsZero() {
		seen = s.now()
	}
	cutoff := s.now().Add(-s.ttl).UnixMilli()

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, s.members, goredis.Z{Score: float64(seen.UnixMilli()), Member: d.ID})
		pipe.HSet(ctx, s.labels, d.ID, d.Label)
		pipe.ZRemRangeByScore(ctx, s.members, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, s.members, 2*s.ttl)
		pipe.Expire(ctx, s.labels, 2*s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("announcing device %s: %w", d.ID, err)
	}
	return nil
}

// List implements ports.PresenceSourcePort. Devices are returned most
// recently seen first.
func (s *Source) List(ctx context.Context) ([]device.Device, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, s.members, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if len(entries) == 0 {
		return []device.Device{}, nil
	}

	ids := make([]string, 0, len(entries))
	for _, z := range entries {
		ids = append(ids, fmt.Sprint(z.Member))
	}
	labels, err := s.client.HMGet(ctx, s.labels, ids...).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("loading device labels: %w", err)
	}

	out := make([]device.Device, 0, len(ids))
	for i, z := range entries {
		d := device.Device{
			ID:         ids[i],
			LastSeenAt: time.UnixMilli(int64(z.Score)).UTC(),
		}
		if i < len(labels) {
			if label, ok := labels[i].(string); ok {
				d.Label = label
			}
		}
		out = append(out, d)
	}
	return out, nil
}
