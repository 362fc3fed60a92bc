// Package connectivity detects whether the sync service is reachable and
// reports the result to the network monitor.
package connectivity

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Reporter receives raw connectivity observations.
type Reporter interface {
	Report(online bool)
}

// Config configures a Prober.
type Config struct {
	URL        string        // Endpoint to probe, typically the service health route
	Interval   time.Duration // Time between probes
	Timeout    time.Duration // Per-probe timeout
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Prober periodically requests a URL. Any response the server produces
// counts as online except a 5xx; transport failures count as offline.
type Prober struct {
	url      string
	interval time.Duration
	client   *http.Client
	reporter Reporter
	logger   *logging.Logger
}

// NewProber creates a prober that reports to r.
func NewProber(cfg Config, r Reporter) (*Prober, error) {
	if cfg.URL == "" {
		return nil, errors.New("probe URL is required")
	}
	if r == nil {
		return nil, errors.New("reporter is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Prober{
		url:      cfg.URL,
		interval: cfg.Interval,
		client:   cfg.HTTPClient,
		reporter: r,
		logger:   cfg.Logger.With("component", "connectivity"),
	}, nil
}

// Probe performs one request and reports the result.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	if ctx.Err() != nil {
		return online
	}
	p.reporter.Report(online)
	return online
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.WarnContext(ctx, "invalid probe request", "url", p.url, "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.DebugContext(ctx, "probe failed", "url", p.url, "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
