package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen is reported when the provider's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrBadRequest is reported when the request cannot be built.
	ErrBadRequest = errors.New("invalid outbound request")
)

// StatusError reports a non-2xx provider response.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider responded %d %s", e.Status, http.StatusText(e.Status))
}

// Request describes one outbound call.
type Request struct {
	// Method defaults to GET.
	Method  string
	URL     string
	Params  url.Values
	Headers http.Header
	Payload []byte
}

// Response is the outcome of a Request. Err is set for transport failures
// (Status 500), an open circuit (Status 503) and non-2xx responses.
type Response struct {
	Status int
	Body   []byte
	Err    error
}

// OK reports whether the provider answered with a 2xx status.
func (r *Response) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// Doer is the request capability consumed by provider clients.
type Doer interface {
	Request(ctx context.Context, req Request) *Response
}

// ClientConfig holds configuration for the resilient client.
type ClientConfig struct {
	// Name identifies this client in the health registry.
	Name string

	// Timeout bounds a single HTTP attempt.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries uint64

	// Default: 200ms
	InitialInterval time.Duration

	// Default: 5 seconds
	MaxInterval time.Duration

	// CircuitBreaker defaults to DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig

	// Registry, when set, receives the client and its request outcomes.
	Registry *Registry

	// HTTPClient overrides the underlying client. Timeout is ignored when set.
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// DefaultClientConfig returns the defaults for a provider client.
func DefaultClientConfig(name string) ClientConfig {
	cb := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cb,
		Logger:          zerolog.Nop(),
	}
}

// Client is a resilient HTTP client with circuit breaker and retry logic.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*attempt]
	config         ClientConfig
}

// attempt is one completed HTTP exchange with its body drained.
type attempt struct {
	status int
	body   []byte
}

// NewClient creates a resilient client and registers it with cfg.Registry.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		httpClient:     httpClient,
		circuitBreaker: newCircuitBreaker[*attempt](cbConfig),
		config:         cfg,
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.config.Name
}

// Request executes req. Network errors and 5xx responses are retried with
// exponential backoff; 4xx responses are returned immediately.
func (c *Client) Request(ctx context.Context, req Request) *Response {
	resp := c.do(ctx, req)
	if c.config.Registry != nil {
		if resp.Err != nil {
			c.config.Registry.RecordFailure(c.config.Name, resp.Err)
		} else {
			c.config.Registry.RecordSuccess(c.config.Name)
		}
	}
	return resp
}

func (c *Client) do(ctx context.Context, req Request) *Response {
	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return &Response{Status: http.StatusInternalServerError, Err: err}
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var last *attempt

	operation := func() error {
		a, err := c.circuitBreaker.Execute(func() (*attempt, error) {
			return c.send(ctx, method, target, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			if a != nil {
				last = a
			}
			return err
		}
		last = a
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.config.Logger.Debug().Err(err).Str("url", req.URL).Dur("retry_in", wait).Msg("provider request failed, retrying")
	}

	err = backoff.RetryNotify(operation, policy, notify)
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return &Response{Status: http.StatusServiceUnavailable, Err: ErrCircuitOpen}
	case last != nil:
		resp := &Response{Status: last.status, Body: last.body}
		if last.status < 200 || last.status > 299 {
			resp.Err = &StatusError{Status: last.status}
		}
		return resp
	case err != nil:
		return &Response{Status: http.StatusInternalServerError, Err: err}
	default:
		return &Response{Status: http.StatusInternalServerError, Err: errors.New("no response")}
	}
}

func (c *Client) send(ctx context.Context, method, target string, req Request) (*attempt, error) {
	var body io.Reader = http.NoBody
	if req.Payload != nil {
		body = bytes.NewReader(req.Payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrBadRequest, err))
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	r, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	a := &attempt{status: r.StatusCode, body: data}
	if r.StatusCode >= 500 {
		return a, &StatusError{Status: r.StatusCode}
	}
	return a, nil
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}

func buildURL(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
