package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 32 << 20

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings shared by
// every source client.
type HTTPClientConfig struct {
	Client     *http.Client
	Backoff    BackoffConfig
	RatePerSec float64
	UserAgent  string
	Recorder   Recorder
}

// Recorder receives fetch telemetry. observability.Metrics implements it.
type Recorder interface {
	ObserveFetch(source river.SourceKind, outcome string, elapsed time.Duration)
	RowsSkipped(source river.SourceKind, n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFetch(river.SourceKind, string, time.Duration) {}
func (nopRecorder) RowsSkipped(river.SourceKind, int)                    {}

// DefaultHTTPConfig returns settings used when nothing is configured.
func DefaultHTTPConfig(client *http.Client) HTTPClientConfig {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return HTTPClientConfig{
		Client: client,
		Backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		RatePerSec: 5,
		UserAgent:  "riverflow/1.0",
	}
}

var errNoHTTPClient = errors.New("http client not configured")

// requester executes requests for one source with rate limiting, retries with
// exponential backoff, and a circuit breaker. Failures are classified into the
// river error taxonomy.
type requester struct {
	source   river.SourceKind
	cfg      HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	recorder Recorder
}

func newRequester(source river.SourceKind, cfg HTTPClientConfig) *requester {
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(source),
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("circuit breaker state change",
				zap.String("source", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &requester{source: source, cfg: cfg, circuit: cb, limiter: limiter, recorder: rec}
}

// upstreamStatus is a non-2xx answer that must not trip the breaker.
type upstreamStatus struct {
	code int
}

func (s upstreamStatus) Error() string { return fmt.Sprintf("unexpected status code %d", s.code) }

func (r *requester) get(ctx context.Context, url string) ([]byte, error) {
	return r.do(ctx, http.MethodGet, url, nil, "")
}

func (r *requester) postJSON(ctx context.Context, url string, body []byte) ([]byte, error) {
	return r.do(ctx, http.MethodPost, url, body, "application/json")
}

// do runs the request and returns the full body. The returned error always
// wraps one of river.ErrNetworkFailure or river.ErrNoData, or a context error.
func (r *requester) do(ctx context.Context, method, url string, body []byte, contentType string) ([]byte, error) {
	start := time.Now()
	data, err := r.doWithRetry(ctx, method, url, body, contentType)
	r.recorder.ObserveFetch(r.source, river.Outcome(err), time.Since(start))
	return data, err
}

func (r *requester) doWithRetry(ctx context.Context, method, url string, body []byte, contentType string) ([]byte, error) {
	if r.cfg.Client == nil {
		return nil, errNoHTTPClient
	}

	delay := r.cfg.Backoff.InitialInterval
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		data, err := r.attempt(ctx, method, url, body, contentType)
		if err == nil {
			return data, nil
		}
		if !river.IsRetryable(err) || errors.Is(err, errCircuitOpen) || attempt >= r.cfg.Backoff.MaxRetries {
			return nil, err
		}

		zap.L().Debug("retrying request",
			zap.String("source", string(r.source)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		if !sleepWithContext(ctx, delay) {
			return nil, ctx.Err()
		}
		delay = nextBackoff(delay, r.cfg.Backoff.MaxInterval)
	}
}

var errCircuitOpen = errors.New("circuit breaker open")

func (r *requester) attempt(ctx context.Context, method, url string, body []byte, contentType string) ([]byte, error) {
	var status int
	result, err := r.circuit.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		if r.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", r.cfg.UserAgent)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := r.cfg.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		if status == http.StatusTooManyRequests || status >= 500 {
			return nil, upstreamStatus{code: status}
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		return data, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%s: %w: %w", r.source, river.ErrNetworkFailure, errCircuitOpen)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, eris.Wrapf(river.ErrNetworkFailure, "%s %s: %v", method, url, err)
	}

	data, ok := result.([]byte)
	if !ok {
		return nil, eris.Errorf("unexpected result type from circuit breaker")
	}
	if status < 200 || status >= 300 {
		return nil, eris.Wrapf(river.ErrNoData, "%s %s: %v", method, url, upstreamStatus{code: status})
	}
	return data, nil
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if maxBackoff > 0 && next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
