package weather

import (
	"context"
	"fmt"
	"net/http"
	"strings"
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

// ProviderName identifies the weather provider in logs and metrics.
const ProviderName = "wunderground"

// EngineConfig holds configuration for the weather sync engine.
type EngineConfig struct {
	Provider Provider
	Resolver Resolver
	Layout   archive.Layout

	// Locker serialises writers per archive. A private locker is used if nil.
	Locker *archive.Locker

	// DefaultStart is the first history date of a station with an empty
	// archive.
	DefaultStart time.Time

	// BatchDays is the number of days planned per history batch (default: 7).
	BatchDays int

	// ForecastFreshness is how long an archived forecast stays current
	// (default: 24 hours).
	ForecastFreshness time.Duration

	Metrics *telemetry.SyncMetrics
	Logger  zerolog.Logger

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// Engine syncs weather stations into their archives.
type Engine struct {
	provider     Provider
	resolver     Resolver
	layout       archive.Layout
	locker       *archive.Locker
	defaultStart time.Time
	batchDays    int
	freshness    time.Duration
	metrics      *telemetry.SyncMetrics
	logger       zerolog.Logger
	now          func() time.Time
}

// NewEngine creates a weather sync engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.BatchDays <= 0 {
		cfg.BatchDays = 7
	}
	if cfg.ForecastFreshness <= 0 {
		cfg.ForecastFreshness = 24 * time.Hour
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
		batchDays:    cfg.BatchDays,
		freshness:    cfg.ForecastFreshness,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// Extract syncs history and hourly forecasts for every station of the
// requested locations. Each (mode, units) archive of a station is processed
// independently; a failure is recorded and the next one proceeds.
func (e *Engine) Extract(ctx context.Context, req Request) (res *Result) {
	res = newResult()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("weather extraction aborted")
			res.fail(http.StatusInternalServerError, fmt.Errorf("failed to fetch data: %v", r))
		}
	}()

	locations, err := e.resolver.ResolveAll(req.Locations)
	if err != nil {
		return res.fail(http.StatusBadRequest, err)
	}

	for _, loc := range locations {
		for _, station := range loc.Stations {
			for _, se := range e.syncStation(ctx, loc.Name, station, req) {
				e.metrics.RecordFailure(ProviderName, loc.Name)
				res.Errors = append(res.Errors, se)
			}
			res.Data = append(res.Data, StationRef{Location: loc.Name, Station: station.ID})
		}
	}

	return res.finish()
}

func (e *Engine) syncStation(ctx context.Context, location string, station registry.Station, req Request) []StationError {
	log := e.logger.With().Str("location", location).Str("station", station.ID).Logger()

	if err := ctx.Err(); err != nil {
		log.Error().Err(err).Msg("station skipped")
		return []StationError{{
			Station:  station.ID,
			Location: location,
			Error:    fmt.Sprintf("failed to process station: %v", err),
		}}
	}

	var errs []StationError
	record := func(mode string, units Units, err error) {
		log.Error().Err(err).Str("mode", mode).Stringer("units", units).Msg("station sync failed")
		errs = append(errs, StationError{
			Station:  station.ID,
			Location: location,
			Mode:     mode,
			Units:    units.String(),
			Error:    err.Error(),
		})
	}

	for _, mode := range req.History {
		for _, units := range req.Units {
			if err := e.syncHistory(ctx, location, station, mode, units, req.Start, req.End); err != nil {
				record(mode.String(), units, err)
			}
		}
	}
	for _, mode := range req.Forecast {
		for _, units := range req.Units {
			if err := e.syncForecast(ctx, location, station, mode, units); err != nil {
				record(mode.String(), units, err)
			}
		}
	}
	return errs
}

func (e *Engine) syncHistory(ctx context.Context, location string, station registry.Station, mode HistoryMode, units Units, start, end *time.Time) (err error) {
	ctx, span := e.startSpan(ctx, "weather.sync_history", location, station.ID, mode.String(), units)
	defer endSpan(span, &err)

	path := e.layout.Station(location, station.ID, HistoryFile(mode, units))
	unlock := e.locker.Lock(path)
	defer unlock()

	a := archive.New(path)
	if err := a.EnsureExists(); err != nil {
		return err
	}

	last, hasLast, err := a.LastKey(HistoryKeyColumn, HistoryLayout)
	if err != nil {
		return err
	}

	from := e.defaultStart
	switch {
	case start != nil:
		from = *start
	case hasLast:
		from = batch.Date(last)
	}
	to := batch.Date(e.now().UTC())
	if end != nil {
		to = *end
	}

	log := e.logger.With().
		Str("location", location).
		Str("station", station.ID).
		Stringer("mode", mode).
		Stringer("units", units).
		Logger()
	log.Debug().Time("start", from).Time("end", to).Msg("syncing history")

	prefix := units.Marker() + "."
	appended := 0
	for window := range batch.Days(from, to, e.batchDays) {
		for day := range window.Days() {
			if err := ctx.Err(); err != nil {
				return err
			}

			began := time.Now()
			rows, err := e.provider.FetchHistory(ctx, station.ID, mode, units, day)
			if err != nil {
				return fmt.Errorf("history %s: %w", day.Format(RequestDateDisplay), err)
			}
			log.Debug().Time("day", day).Int("rows", rows.Len()).Dur("took", time.Since(began)).Msg("history fetched")
			if rows.Len() == 0 {
				continue
			}

			rows.RenameColumns(func(name string) string {
				return strings.TrimPrefix(name, prefix)
			})
			fresh, err := a.Dedup(rows, HistoryKeyColumn)
			if err != nil {
				return err
			}
			n, err := a.Append(fresh)
			if err != nil {
				return err
			}
			appended += n
		}
	}

	backfill := hasLast && from.Before(batch.Date(last))
	sorted, err := a.IsSortedBy(HistoryKeyColumn)
	if err != nil {
		return err
	}
	if backfill || !sorted {
		log.Debug().Bool("backfill", backfill).Msg("sorting history archive")
		if err := a.SortBy(HistoryKeyColumn); err != nil {
			return err
		}
	}

	e.metrics.RecordAppend(ProviderName, location, appended)
	log.Info().Int("rows", appended).Msg("history synced")
	return nil
}

func (e *Engine) syncForecast(ctx context.Context, location string, station registry.Station, mode ForecastMode, units Units) (err error) {
	ctx, span := e.startSpan(ctx, "weather.sync_forecast", location, station.ID, mode.String(), units)
	defer endSpan(span, &err)

	path := e.layout.Station(location, station.ID, ForecastFile(mode, units))
	unlock := e.locker.Lock(path)
	defer unlock()

	a := archive.New(path)
	if err := a.EnsureExists(); err != nil {
		return err
	}

	log := e.logger.With().
		Str("location", location).
		Str("station", station.ID).
		Stringer("mode", mode).
		Stringer("units", units).
		Logger()

	lastRef, hasLast, err := a.LastKey(ReferenceColumn, ForecastLayout)
	if err != nil {
		return err
	}
	if hasLast && !e.now().After(lastRef.Add(e.freshness)) {
		log.Debug().Time("reference", lastRef).Msg("forecast is current, skipping")
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	rows, err := e.provider.FetchForecast(ctx, station.Geocode, mode, units)
	if err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	if rows.Len() == 0 {
		log.Debug().Msg("empty forecast")
		return nil
	}

	idx := rows.Column(ForecastKeyColumn)
	if idx < 0 {
		return fmt.Errorf("%w: column %q not in forecast", archive.ErrSchema, ForecastKeyColumn)
	}
	rows.InsertColumn(idx, ReferenceColumn, rows.Rows[0][idx])

	fresh, err := a.Dedup(rows, ForecastKeyColumn)
	if err != nil {
		return err
	}
	n, err := a.Append(fresh)
	if err != nil {
		return err
	}
	if err := a.SortBy(ForecastKeyColumn); err != nil {
		return err
	}

	e.metrics.RecordAppend(ProviderName, location, n)
	log.Info().Int("rows", n).Msg("forecast synced")
	return nil
}

func (e *Engine) startSpan(ctx context.Context, name, location, station, mode string, units Units) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("location", location),
		attribute.String("station", station),
		attribute.String("mode", mode),
		attribute.String("units", units.String()),
	))
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
