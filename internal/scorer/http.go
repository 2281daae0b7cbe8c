package scorer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"reddot-watch/feedcache/internal/metrics"
)

const maxErrorBody = 512

// ClientConfig configures the HTTP scorer client.
type ClientConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration

	// BreakerName labels the breaker in logs and metrics.
	BreakerName string
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration

	HTTPClient *http.Client
}

// HTTPClient calls a scorer over HTTP behind a circuit breaker.
type HTTPClient struct {
	url    string
	apiKey string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[*Response]
	name   string
}

var _ Scorer = (*HTTPClient)(nil)

// NewHTTPClient builds a client. The breaker opens when at least 60% of 10 or more
// requests in a one-minute window fail.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	name := cfg.BreakerName
	if name == "" {
		name = "scorer"
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				log.Warn().
					Str("breaker", name).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("Opening scorer circuit")
			}
			return shouldTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Scorer circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &HTTPClient{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: client,
		cb:     cb,
		name:   name,
	}
}

// Score posts req to the scorer. Every returned error is an *InvocationError.
func (c *HTTPClient) Score(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.cb.Execute(func() (*Response, error) {
		return c.do(ctx, req)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ScorerRequestDuration.WithLabelValues("rejected").Observe(time.Since(start).Seconds())
			return nil, &InvocationError{Kind: KindRejected, Err: err}
		}
		invErr := Classify(err)
		metrics.ScorerRequestDuration.WithLabelValues(string(invErr.Kind)).Observe(time.Since(start).Seconds())
		return nil, invErr
	}

	metrics.ScorerRequestDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	return resp, nil
}

func (c *HTTPClient) do(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &InvocationError{Kind: KindTransport, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &InvocationError{Kind: KindTransport, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, &InvocationError{Kind: KindTimeout, Err: err}
		}
		return nil, &InvocationError{Kind: KindTransport, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &InvocationError{Kind: KindTransport, Err: fmt.Errorf("failed to read response body (status %d): %w", httpResp.StatusCode, err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return nil, &InvocationError{Kind: KindStatus, Err: fmt.Errorf("scorer returned status %d: %s", httpResp.StatusCode, bytes.TrimSpace(respBody))}
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &InvocationError{Kind: KindTransport, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return &resp, nil
}

// State reports the breaker state.
func (c *HTTPClient) State() gobreaker.State {
	return c.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
