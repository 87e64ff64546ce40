package airquality

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/purepulse/purepulse/internal/archive"
	"github.com/purepulse/purepulse/internal/batch"
	"github.com/purepulse/purepulse/internal/registry"
	"github.com/purepulse/purepulse/internal/telemetry"
)

// ProviderName identifies the air quality provider in logs and metrics.
const ProviderName = "purpleair"

// EngineConfig holds configuration for the sync engine.
type EngineConfig struct {
	Provider Provider
	Resolver Resolver
	Layout   archive.Layout

	// Locker serialises writers per archive. A private locker is used if nil.
	Locker *archive.Locker

	// DefaultStart applies to sensors with an empty archive.
	DefaultStart time.Time

	// BatchDays is the span of one request (default: 14).
	BatchDays int

	// Average is the averaging interval of archived rows (default: 60 minutes).
	Average time.Duration

	// MaxRequestsPerKey and ThrottlePause configure the request counter.
	MaxRequestsPerKey int
	ThrottlePause     time.Duration

	Metrics *telemetry.SyncMetrics
	Logger  zerolog.Logger

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// Engine syncs PurpleAir sensors into their archives.
type Engine struct {
	provider     Provider
	resolver     Resolver
	layout       archive.Layout
	locker       *archive.Locker
	defaultStart time.Time
	span         time.Duration
	average      time.Duration
	counter      *Counter
	metrics      *telemetry.SyncMetrics
	logger       zerolog.Logger
	now          func() time.Time
}

// NewEngine creates a sync engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.BatchDays <= 0 {
		cfg.BatchDays = 14
	}
	if cfg.Average <= 0 {
		cfg.Average = 60 * time.Minute
	}
	if cfg.Locker == nil {
		cfg.Locker = &archive.Locker{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{
		provider:     cfg.Provider,
		resolver:     cfg.Resolver,
		layout:       cfg.Layout,
		locker:       cfg.Locker,
		defaultStart: cfg.DefaultStart,
		span:         time.Duration(cfg.BatchDays) * 24 * time.Hour,
		average:      cfg.Average,
		counter:      NewCounter(cfg.MaxRequestsPerKey, cfg.ThrottlePause),
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// Counts returns the engine's request counter.
func (e *Engine) Counts() Counts {
	return e.counter.Counts()
}

// Extract syncs every sensor of the requested locations. Locations are
// validated up front; an empty list or unknown name yields status 400 before
// any request is issued. A panic is reported as status 500 with the partial
// result accumulated so far.
func (e *Engine) Extract(ctx context.Context, req Request) (res *Result) {
	res = newResult()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("air quality extraction aborted")
			res.fail(http.StatusInternalServerError, fmt.Errorf("failed to fetch data: %v", r))
		}
	}()

	locations, err := e.resolver.ResolveAll(req.Locations)
	if err != nil {
		return res.fail(http.StatusBadRequest, err)
	}

	end := e.now().UTC().Truncate(time.Hour)
	if req.End != nil {
		end = *req.End
	}

	for _, loc := range locations {
		for _, sensor := range loc.Sensors {
			if err := e.syncSensor(ctx, loc, sensor, req.Start, end); err != nil {
				e.logger.Error().Err(err).
					Str("location", loc.Name).
					Int("sensor", sensor).
					Msg("sensor sync failed")
				e.metrics.RecordFailure(ProviderName, loc.Name)
				res.Errors = append(res.Errors, SensorError{
					Sensor:   &sensor,
					Location: loc.Name,
					Error:    err.Error(),
				})
				continue
			}
			res.Data = append(res.Data, SensorRef{Location: loc.Name, Sensor: sensor})
		}
	}

	return res.finish()
}

func (e *Engine) syncSensor(ctx context.Context, loc registry.Location, sensor int, start *time.Time, end time.Time) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "airquality.sync_sensor", trace.WithAttributes(
		attribute.String("location", loc.Name),
		attribute.Int("sensor", sensor),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := e.logger.With().Str("location", loc.Name).Int("sensor", sensor).Logger()

	path := e.layout.Sensor(loc.Name, sensor)
	unlock := e.locker.Lock(path)
	defer unlock()

	a := archive.New(path)
	if err := a.EnsureExists(); err != nil {
		return err
	}

	from, err := e.startFor(a, start)
	if err != nil {
		return err
	}

	log.Debug().Time("start", from).Time("end", end).Msg("syncing sensor")

	appended := 0
	for window := range batch.Plan(from, end, e.span) {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := e.provider.FetchHistory(ctx, sensor, window)
		if err == nil || errors.Is(err, ErrMalformedResponse) {
			if recErr := e.counter.Record(ctx); recErr != nil {
				return recErr
			}
		}
		if err != nil {
			log.Warn().Err(err).
				Time("window_start", window.Start).
				Time("window_end", window.End).
				Msg("history request failed, skipping window")
			continue
		}

		n, err := e.store(a, rows)
		if err != nil {
			return fmt.Errorf("sensor %d: %w", sensor, err)
		}
		appended += n
	}

	e.metrics.RecordAppend(ProviderName, loc.Name, appended)
	log.Info().Int("rows", appended).Msg("sensor synced")
	return nil
}

// startFor returns the caller start, else the last archived key plus one
// averaging interval, else the configured default.
func (e *Engine) startFor(a *archive.Archive, start *time.Time) (time.Time, error) {
	if start != nil {
		return *start, nil
	}
	last, ok, err := a.LastKey(KeyColumn, TimestampLayout)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return last.Add(e.average), nil
	}
	return e.defaultStart, nil
}

// store orders one response batch, drops rows already archived and appends
// the rest. The archive itself is never re-sorted.
func (e *Engine) store(a *archive.Archive, rows *archive.Table) (int, error) {
	if rows.Len() == 0 {
		return 0, nil
	}
	if err := rows.SortBy(KeyColumn); err != nil {
		return 0, err
	}
	fresh, err := a.Dedup(rows, KeyColumn)
	if err != nil {
		return 0, err
	}
	return a.Append(fresh)
}

