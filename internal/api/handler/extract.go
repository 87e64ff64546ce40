package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/purepulse/purepulse/internal/airquality"
	"github.com/purepulse/purepulse/internal/api/middleware"
	"github.com/purepulse/purepulse/internal/api/models"
	"github.com/purepulse/purepulse/internal/api/response"
	"github.com/purepulse/purepulse/internal/weather"
)

// maxBodyBytes bounds extraction request bodies.
const maxBodyBytes = 1 << 20

// AirQualityExtractor runs a PurpleAir extraction.
type AirQualityExtractor interface {
	Extract(ctx context.Context, req airquality.Request) *airquality.Result
}

// WeatherExtractor runs a Wunderground extraction.
type WeatherExtractor interface {
	Extract(ctx context.Context, req weather.Request) *weather.Result
}

// ExtractHandler handles extraction endpoints. The HTTP status mirrors the
// result status: 200, 206 with per-device errors, 400 or 500.
type ExtractHandler struct {
	airQuality AirQualityExtractor
	weather    WeatherExtractor
	logger     zerolog.Logger
}

// NewExtractHandler creates a new ExtractHandler.
func NewExtractHandler(airQuality AirQualityExtractor, weather WeatherExtractor, logger zerolog.Logger) *ExtractHandler {
	return &ExtractHandler{airQuality: airQuality, weather: weather, logger: logger}
}

// PurpleAir handles POST /v1/extract/purpleair.
func (h *ExtractHandler) PurpleAir(w http.ResponseWriter, r *http.Request) {
	var input models.PurpleAirExtractRequest
	if !decode(w, r, &input) {
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid extraction request", errs)
		return
	}

	res := h.airQuality.Extract(extractContext(r), input.Engine())
	h.logResult(r, "purpleair", res.Status, len(res.Data), len(res.Errors))
	response.JSON(w, r, res.Status, res)
}

// Wunderground handles POST /v1/extract/wunderground.
func (h *ExtractHandler) Wunderground(w http.ResponseWriter, r *http.Request) {
	var input models.WundergroundExtractRequest
	if !decode(w, r, &input) {
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid extraction request", errs)
		return
	}

	res := h.weather.Extract(extractContext(r), input.Engine())
	h.logResult(r, "wunderground", res.Status, len(res.Data), len(res.Errors))
	response.JSON(w, r, res.Status, res)
}

func (h *ExtractHandler) logResult(r *http.Request, provider string, status, data, errs int) {
	h.logger.Info().
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("provider", provider).
		Int("status", status).
		Int("devices", data).
		Int("errors", errs).
		Msg("extraction finished")
}

// extractContext keeps request values but not cancellation: a client
// disconnect must not abandon archives mid-sync.
func extractContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		response.BadRequest(w, r, "invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}
