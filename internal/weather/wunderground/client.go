// Package wunderground provides a client for the Weather Underground PWS
// history and hourly forecast APIs.
package wunderground

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/purepulse/purepulse/internal/archive"
	"github.com/purepulse/purepulse/internal/telemetry"
	"github.com/purepulse/purepulse/internal/transport"
	"github.com/purepulse/purepulse/internal/weather"
)

const (
	// DefaultBaseURL is the base URL for the weather.com APIs.
	DefaultBaseURL = "https://api.weather.com"

	// ProviderName identifies this provider.
	ProviderName = weather.ProviderName
)

// ErrDecode is returned when a payload is not the expected shape.
var ErrDecode = errors.New("decode wunderground payload")

// ClientConfig holds configuration for the Wunderground client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// APIKey is sent as the apiKey query parameter.
	APIKey string

	// Doer executes requests. If nil, a resilient transport client is created
	// and added to Registry.
	Doer     transport.Doer
	Registry *transport.Registry

	Metrics *telemetry.SyncMetrics
	Logger  zerolog.Logger
}

// Client is a Wunderground API client.
type Client struct {
	baseURL string
	apiKey  string
	doer    transport.Doer
	metrics *telemetry.SyncMetrics
	logger  zerolog.Logger
}

// NewClient creates a new Wunderground client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
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
		doer:    doer,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// FetchHistory retrieves one day of station observations. Nested objects
// are flattened into dotted column names, e.g. "metric.tempAvg".
func (c *Client) FetchHistory(ctx context.Context, stationID string, mode weather.HistoryMode, units weather.Units, day time.Time) (*archive.Table, error) {
	resp := c.get(ctx, "history", "/v2/pws/history/"+mode.String(), url.Values{
		"stationId":        {stationID},
		"format":           {"json"},
		"units":            {units.String()},
		"date":             {day.Format(weather.RequestDateLayout)},
		"numericPrecision": {"decimal"},
	})
	if !resp.OK() {
		return nil, fmt.Errorf("%w: station %s: %w", weather.ErrProviderUnavailable, stationID, resp.Err)
	}
	if resp.Status == http.StatusNoContent || len(resp.Body) == 0 {
		c.logger.Debug().Str("station", stationID).Time("day", day).Msg("no observations")
		return archive.NewTable(), nil
	}
	return decodeObservations(resp.Body)
}

// FetchForecast retrieves the hourly forecast for a "lat,lon" geocode.
func (c *Client) FetchForecast(ctx context.Context, geocode string, mode weather.ForecastMode, units weather.Units) (*archive.Table, error) {
	resp := c.get(ctx, "forecast", "/v3/wx/forecast/hourly/"+mode.String(), url.Values{
		"geocode":  {geocode},
		"format":   {"json"},
		"units":    {units.String()},
		"language": {"en"},
	})
	if !resp.OK() {
		return nil, fmt.Errorf("%w: geocode %s: %w", weather.ErrProviderUnavailable, geocode, resp.Err)
	}
	if resp.Status == http.StatusNoContent || len(resp.Body) == 0 {
		return archive.NewTable(), nil
	}
	return decodeColumns(resp.Body)
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values) *transport.Response {
	params.Set("apiKey", c.apiKey)

	began := time.Now()
	resp := c.doer.Request(ctx, transport.Request{
		URL:    c.baseURL + path,
		Params: params,
	})
	c.metrics.RecordRequest(ProviderName, op, time.Since(began), resp.Status)
	return resp
}

// decodeObservations converts {"observations": [{...}, ...]} into a table.
// Columns appear in first-seen order across all observations.
func decodeObservations(body []byte) (*archive.Table, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrDecode)
	}
	observations := gjson.GetBytes(body, "observations")
	if !observations.Exists() || observations.Type == gjson.Null {
		return archive.NewTable(), nil
	}
	if !observations.IsArray() {
		return nil, fmt.Errorf("%w: observations is not an array", ErrDecode)
	}

	var (
		header  []string
		columns = map[string]int{}
		records []map[string]string
		err     error
	)
	observations.ForEach(func(_, obs gjson.Result) bool {
		if !obs.IsObject() {
			err = fmt.Errorf("%w: observation is not an object", ErrDecode)
			return false
		}
		record := map[string]string{}
		flatten("", obs, func(name, value string) {
			if _, ok := columns[name]; !ok {
				columns[name] = len(header)
				header = append(header, name)
			}
			record[name] = value
		})
		records = append(records, record)
		return true
	})
	if err != nil {
		return nil, err
	}

	table := archive.NewTable(header...)
	for _, record := range records {
		row := make([]string, len(header))
		for name, value := range record {
			row[columns[name]] = value
		}
		table.Append(row...)
	}
	return table, nil
}

func flatten(prefix string, obj gjson.Result, emit func(name, value string)) {
	obj.ForEach(func(key, value gjson.Result) bool {
		name := prefix + key.String()
		if value.IsObject() {
			flatten(name+".", value, emit)
			return true
		}
		emit(name, cell(value))
		return true
	})
}

// decodeColumns converts a columnar {"name": [v0, v1, ...], ...} document
// into a table, one row per array index, keeping the key order.
func decodeColumns(body []byte) (*archive.Table, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrDecode)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: forecast is not an object", ErrDecode)
	}

	var (
		header []string
		values [][]gjson.Result
		rows   int
	)
	doc.ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			return true
		}
		column := value.Array()
		header = append(header, key.String())
		values = append(values, column)
		rows = max(rows, len(column))
		return true
	})

	table := archive.NewTable(header...)
	for i := range rows {
		row := make([]string, len(header))
		for j, column := range values {
			if i < len(column) {
				row[j] = cell(column[i])
			}
		}
		table.Append(row...)
	}
	return table, nil
}

// cell renders a JSON value as archive text. Numbers keep their wire
// representation.
func cell(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.String()
	case gjson.Number:
		return v.Raw
	default:
		if v.IsArray() || v.IsObject() {
			return v.Raw
		}
		return v.String()
	}
}
