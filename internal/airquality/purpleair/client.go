// Package purpleair provides a client for the PurpleAir sensor history API.
package purpleair

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/purepulse/purepulse/internal/airquality"
	"github.com/purepulse/purepulse/internal/archive"
	"github.com/purepulse/purepulse/internal/batch"
	"github.com/purepulse/purepulse/internal/telemetry"
	"github.com/purepulse/purepulse/internal/transport"
)

const (
	// DefaultBaseURL is the base URL for the PurpleAir API.
	DefaultBaseURL = "https://api.purpleair.com/v1"

	// ProviderName identifies this provider.
	ProviderName = airquality.ProviderName
)

// ErrDecode is returned when a history payload is not the expected shape.
var ErrDecode = fmt.Errorf("decode purpleair history: %w", airquality.ErrMalformedResponse)

// ClientConfig holds configuration for the PurpleAir client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// APIKey is sent in the X-API-Key header.
	APIKey string

	// Average is the averaging interval in minutes.
	Average int

	// Fields lists the requested history columns.
	Fields []string

	// Doer executes requests. If nil, a resilient transport client is created
	// and added to Registry.
	Doer     transport.Doer
	Registry *transport.Registry

	Metrics *telemetry.SyncMetrics
	Logger  zerolog.Logger
}

// Client is a PurpleAir API client.
type Client struct {
	baseURL string
	apiKey  string
	average string
	fields  string
	doer    transport.Doer
	metrics *telemetry.SyncMetrics
}

// NewClient creates a new PurpleAir client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.Average == 0 {
		cfg.Average = 60
	}

	doer := cfg.Doer
	if doer == nil {
		tc := transport.DefaultClientConfig(ProviderName)
		tc.Registry = cfg.Registry
		tc.Logger = cfg.Logger
		doer = transport.NewClient(tc)
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		average: strconv.Itoa(cfg.Average),
		fields:  strings.Join(cfg.Fields, ","),
		doer:    doer,
		metrics: cfg.Metrics,
	}
}

// FetchHistory retrieves the averaged history of one sensor for a window.
func (c *Client) FetchHistory(ctx context.Context, sensor int, window batch.Window) (*archive.Table, error) {
	params := url.Values{
		"start_timestamp": {window.Start.UTC().Format(airquality.TimestampLayout)},
		"end_timestamp":   {window.End.UTC().Format(airquality.TimestampLayout)},
		"average":         {c.average},
		"time_format":     {"iso"},
	}
	if c.fields != "" {
		params.Set("fields", c.fields)
	}

	began := time.Now()
	resp := c.doer.Request(ctx, transport.Request{
		URL:     fmt.Sprintf("%s/sensors/%d/history", c.baseURL, sensor),
		Params:  params,
		Headers: http.Header{"X-API-Key": {c.apiKey}},
	})
	c.metrics.RecordRequest(ProviderName, "history", time.Since(began), resp.Status)

	if !resp.OK() {
		return nil, fmt.Errorf("%w: sensor %d: %w", airquality.ErrProviderUnavailable, sensor, resp.Err)
	}
	return decodeHistory(resp.Body)
}

// decodeHistory converts {"fields": [...], "data": [[...], ...]} into a
// table with one row per data entry, preserving the field order.
func decodeHistory(body []byte) (*archive.Table, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrDecode)
	}
	doc := gjson.ParseBytes(body)

	fields := doc.Get("fields")
	if !fields.IsArray() {
		return nil, fmt.Errorf("%w: missing fields", ErrDecode)
	}
	header := make([]string, 0, len(fields.Array()))
	for _, f := range fields.Array() {
		header = append(header, f.String())
	}
	table := archive.NewTable(header...)
	timeIdx := table.Column(airquality.KeyColumn)

	var err error
	doc.Get("data").ForEach(func(_, row gjson.Result) bool {
		if !row.IsArray() {
			err = fmt.Errorf("%w: data row is not an array", ErrDecode)
			return false
		}
		cells := make([]string, 0, len(header))
		i := 0
		row.ForEach(func(_, v gjson.Result) bool {
			cells = append(cells, cell(v, i == timeIdx))
			i++
			return true
		})
		table.Append(cells...)
		return true
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

// cell renders a JSON value as archive text. Numbers keep their wire
// representation; epoch timestamps are rendered in the archive layout.
func cell(v gjson.Result, isTime bool) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.Number:
		if isTime {
			return time.Unix(v.Int(), 0).UTC().Format(airquality.TimestampLayout)
		}
		return v.Raw
	default:
		return v.String()
	}
}
