// Package httpstore implements the remote store over the sync service's
// REST API. Requests run behind a circuit breaker so an unreachable service
// fails fast with transient errors instead of tying up every cycle.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jbctechsolutions/tempo/internal/domain/entity"
	domainErrors "github.com/jbctechsolutions/tempo/internal/domain/errors"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/logging"
)

// BreakerConfig configures the circuit breaker around remote calls.
type BreakerConfig struct {
	MaxRequests      uint32        // Requests allowed through while half-open
	Interval         time.Duration // Window after which closed-state counts reset
	Timeout          time.Duration // How long the breaker stays open
	FailureThreshold uint32        // Consecutive failures that open the breaker
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Store is a ports.RemoteStorePort backed by HTTP.
type Store struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breakerCfg BreakerConfig
	breaker    *gobreaker.CircuitBreaker
	logger     *logging.Logger
}

// Option is a functional option for configuring the Store.
type Option func(*Store)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(s *Store) {
		s.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) {
		s.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.httpClient.Timeout = timeout
		}
	}
}

// WithBreaker overrides the circuit breaker settings.
func WithBreaker(cfg BreakerConfig) Option {
	return func(s *Store) {
		s.breakerCfg = cfg
	}
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store for the service at baseURL.
func New(baseURL string, opts ...Option) (*Store, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	s := &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		breakerCfg: DefaultBreakerConfig(),
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg := s.breakerCfg
	def := DefaultBreakerConfig()
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	threshold := cfg.FailureThreshold
	logger := s.logger.With("component", "httpstore")

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: isHealthy,
	})
	return s, nil
}

// Name implements ports.RemoteStorePort.
func (s *Store) Name() string {
	return Backend
}

// BreakerState returns the circuit breaker state, e.g. "closed" or "open".
func (s *Store) BreakerState() string {
	return s.breaker.State().String()
}

// Fetch implements ports.RemoteStorePort.
func (s *Store) Fetch(ctx context.Context, ref entity.Ref) (*entity.Remote, error) {
	return s.do(ctx, http.MethodGet, s.entityURL(ref), nil, nil)
}

// Create implements ports.RemoteStorePort.
func (s *Store) Create(ctx context.Context, ref entity.Ref, fields entity.Fields) (*entity.Remote, error) {
	body := CreateRequest{ID: ref.ID, Fields: fields}
	return s.do(ctx, http.MethodPost, s.typeURL(ref.Type), body, nil)
}

// Update implements ports.RemoteStorePort. The base version travels in
// the If-Match header.
func (s *Store) Update(ctx context.Context, ref entity.Ref, fields entity.Fields, base entity.Version) (*entity.Remote, error) {
	header := http.Header{}
	header.Set(HeaderIfMatch, strconv.FormatInt(int64(base), 10))
	return s.do(ctx, http.MethodPatch, s.entityURL(ref), UpdateRequest{Fields: fields}, header)
}

func (s *Store) typeURL(t entity.Type) string {
	return s.baseURL + EndpointEntities + "/" + url.PathEscape(string(t))
}

func (s *Store) entityURL(ref entity.Ref) string {
	return s.typeURL(ref.Type) + "/" + url.PathEscape(ref.ID)
}

func (s *Store) do(ctx context.Context, method, target string, body any, header http.Header) (*entity.Remote, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.roundTrip(ctx, method, target, body, header)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domainErrors.Transient("remote store circuit open", domainErrors.ErrRemoteUnavailable)
	}
	if err != nil {
		return nil, err
	}
	return result.(*entity.Remote), nil
}

func (s *Store) roundTrip(ctx context.Context, method, target string, body any, header http.Header) (*entity.Remote, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, domainErrors.Transient(fmt.Sprintf("%s %s", method, target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, parseError(resp)
	}

	var er EntityResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, domainErrors.Transient("decoding response", err)
	}
	fields, err := er.Fields.Normalize()
	if err != nil {
		return nil, domainErrors.Transient("decoding response fields", err)
	}
	return &entity.Remote{
		Ref:     entity.Ref{Type: er.Type, ID: er.ID},
		Fields:  fields,
		Version: er.Version,
	}, nil
}

// parseError maps a failed response to the domain outcome it reports.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := strings.TrimSpace(string(body))
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
		if errResp.Message != "" {
			msg += ": " + errResp.Message
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	msg = fmt.Sprintf("status %d: %s", resp.StatusCode, msg)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, domainErrors.ErrRemoteNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, domainErrors.ErrRemoteExists)
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%s: %w", msg, domainErrors.ErrVersionMismatch)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domainErrors.Rejected(msg, nil)
	}
	return domainErrors.Transient(msg, nil)
}

// isHealthy reports whether err still shows a responsive service. Only
// transport failures and server errors count against the breaker.
func isHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return errors.Is(err, domainErrors.ErrRemoteNotFound) ||
		errors.Is(err, domainErrors.ErrRemoteExists) ||
		errors.Is(err, domainErrors.ErrVersionMismatch) ||
		domainErrors.IsRejected(err)
}
