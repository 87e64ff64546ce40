// Package airquality incrementally syncs PurpleAir sensor history into
// per-sensor CSV archives.
package airquality

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/purepulse/purepulse/internal/archive"
	"github.com/purepulse/purepulse/internal/batch"
	"github.com/purepulse/purepulse/internal/registry"
)

// Archive key column and its textual layout.
const (
	KeyColumn       = "time_stamp"
	TimestampLayout = "2006-01-02T15:04:05Z"
)

// ErrProviderUnavailable wraps transport failures and non-2xx responses.
var ErrProviderUnavailable = errors.New("air quality provider unavailable")

// ErrMalformedResponse wraps 2xx responses whose body could not be decoded.
// The request still counts against the key quota.
var ErrMalformedResponse = errors.New("air quality provider response malformed")

// Provider fetches one window of sensor history.
type Provider interface {
	FetchHistory(ctx context.Context, sensor int, window batch.Window) (*archive.Table, error)
}

// Resolver maps location names to their configured devices.
type Resolver interface {
	ResolveAll(names []string) ([]registry.Location, error)
}

// Request is an extraction request. Nil bounds fall back to the archive
// state and the configured defaults.
type Request struct {
	Locations []string
	Start     *time.Time
	End       *time.Time
}

// SensorRef identifies a processed sensor.
type SensorRef struct {
	Location string `json:"location"`
	Sensor   int    `json:"sensor"`
}

// SensorError is one failure record. Validation and top-level failures carry
// only Error.
type SensorError struct {
	Sensor   *int   `json:"sensor,omitempty"`
	Location string `json:"location,omitempty"`
	Error    string `json:"error"`
}

// Result aggregates one extraction run.
type Result struct {
	Status int           `json:"status"`
	Data   []SensorRef   `json:"data"`
	Errors []SensorError `json:"errors"`
}

func newResult() *Result {
	return &Result{Data: []SensorRef{}, Errors: []SensorError{}}
}

// finish applies the status rule: 200 clean, 206 with per-sensor errors.
func (r *Result) finish() *Result {
	r.Status = http.StatusOK
	if len(r.Errors) > 0 {
		r.Status = http.StatusPartialContent
	}
	return r
}

func (r *Result) fail(status int, err error) *Result {
	r.Status = status
	r.Errors = append(r.Errors, SensorError{Error: err.Error()})
	return r
}

// Counts is a snapshot of the request counter.
type Counts struct {
	Total int `json:"total_requests"`
	Key   int `json:"key_requests"`
}

// Counter tracks successful provider requests and applies the per-key
// throttle. It lives as long as the Engine that owns it.
type Counter struct {
	mu    sync.Mutex
	total int
	key   int
	max   int
	pause time.Duration
}

// NewCounter returns a counter pausing for pause after every max requests.
// max <= 0 disables the throttle.
func NewCounter(max int, pause time.Duration) *Counter {
	return &Counter{max: max, pause: pause}
}

// Record counts one successful request. When the per-key count reaches the
// maximum it blocks for the pause and resets the per-key count; the total is
// never reset. The lock is held during the pause so concurrent callers wait.
func (c *Counter) Record(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	c.key++
	if c.max <= 0 || c.key < c.max {
		return nil
	}

	timer := time.NewTimer(c.pause)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.key = 0
	return nil
}

// Counts returns the current counter values.
func (c *Counter) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counts{Total: c.total, Key: c.key}
}
