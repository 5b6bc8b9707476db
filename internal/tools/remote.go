package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rendis/shopsync/pkg/schema"
)

const (
	defaultRemoteTimeout   = 10 * time.Second
	defaultRemoteRetries   = 2
	defaultRemoteBackoff   = 200 * time.Millisecond
	defaultRemoteMaxDelay  = 5 * time.Second
	maxRemoteResponseBytes = 4 * 1024 * 1024
)

// RemoteConfig describes a model-serving endpoint exposed as a tool.
type RemoteConfig struct {
	Name        string
	Description string
	Endpoint    string
	Headers     map[string]string
	CacheTTL    time.Duration
	Timeout     time.Duration

	// RatePerSecond <= 0 disables client-side rate limiting.
	RatePerSecond float64
	Burst         int

	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration

	Breaker BreakerConfig
}

// RemoteTool posts {"instances":[args]} to an endpoint and returns the first
// element of the {"predictions":[...]} response.
type RemoteTool struct {
	cfg     RemoteConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

// NewRemoteTool validates cfg and fills defaults. onBreaker receives circuit
// transitions and may be nil.
func NewRemoteTool(cfg RemoteConfig, client *http.Client, onBreaker func(string, CircuitState)) (*RemoteTool, error) {
	if cfg.Name == "" || cfg.Endpoint == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "remote tool needs a name and an endpoint")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultRemoteRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRemoteBackoff
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultRemoteMaxDelay
	}
	if cfg.Breaker.Cooldown <= 0 {
		cfg.Breaker = DefaultBreakerConfig()
	}
	if client == nil {
		client = &http.Client{}
	}

	t := &RemoteTool{
		cfg:     cfg,
		client:  client,
		breaker: NewCircuitBreaker(cfg.Name, cfg.Breaker, onBreaker),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return t, nil
}

func (t *RemoteTool) Name() string            { return t.cfg.Name }
func (t *RemoteTool) Description() string     { return t.cfg.Description }
func (t *RemoteTool) CacheTTL() time.Duration { return t.cfg.CacheTTL }

// Breaker exposes the circuit breaker for status reporting.
func (t *RemoteTool) Breaker() *CircuitBreaker { return t.breaker }

// Execute calls the endpoint, retrying transient failures with exponential backoff.
func (t *RemoteTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	body, err := json.Marshal(map[string]any{"instances": []any{args}})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "arguments are not JSON-serializable").
			WithTool(t.cfg.Name).WithCause(err)
	}

	var lastErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := waitBackoff(ctx, backoffDelay(t.cfg.RetryDelay, t.cfg.MaxDelay, attempt-1)); err != nil {
				return nil, t.wrap(err)
			}
		}
		if err := t.breaker.Allow(); err != nil {
			return nil, err
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, t.wrap(err)
			}
		}

		result, err := t.call(ctx, body)
		if err == nil {
			t.breaker.RecordSuccess()
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			var se *statusError
			if !errors.As(err, &se) && !errors.Is(err, context.Canceled) {
				t.breaker.RecordFailure()
			}
			return nil, t.wrap(err)
		}
		if t.breaker.RecordFailure() == CircuitOpen {
			break
		}
	}
	return nil, t.wrap(lastErr)
}

func (t *RemoteTool) call(ctx context.Context, body []byte) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &statusError{code: resp.StatusCode, body: snippet}
	}

	var decoded struct {
		Predictions []any `json:"predictions"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}
	if len(decoded.Predictions) == 0 {
		return nil, fmt.Errorf("response has no predictions")
	}
	return decoded.Predictions[0], nil
}

func (t *RemoteTool) wrap(err error) error {
	if err == nil {
		return nil
	}
	var se *schema.ShopSyncError
	if errors.As(err, &se) {
		return err
	}
	code := schema.ErrCodeAgentProcessing
	if errors.Is(err, context.Canceled) {
		code = schema.ErrCodeCancelled
	}
	return schema.NewError(code, "remote call failed").WithTool(t.cfg.Name).WithCause(err)
}
