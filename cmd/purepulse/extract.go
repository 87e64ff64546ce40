package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/purepulse/purepulse/internal/api/models"
	"github.com/purepulse/purepulse/internal/weather"
)

type commandLoader func(cmd *cobra.Command) (*engines, error)

func newPurpleAirCmd(load commandLoader) *cobra.Command {
	var (
		locations  []string
		start, end string
	)

	cmd := &cobra.Command{
		Use:   "purpleair",
		Short: "Sync PurePulse sensor history from PurpleAir",
		Long: "Sync the averaged history of every PurpleAir sensor at the given locations into the archive. " +
			"Without --start, each sensor resumes after its last archived row.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := models.PurpleAirExtractRequest{Locations: locations}
			var err error
			if req.Start, err = parseFlag[models.DateTime]("start", start); err != nil {
				return err
			}
			if req.End, err = parseFlag[models.DateTime]("end", end); err != nil {
				return err
			}
			if err := validationError(req.Validate()); err != nil {
				return err
			}

			e, err := load(cmd)
			if err != nil {
				return err
			}
			res := e.airQuality.Extract(cmd.Context(), req.Engine())
			return printResult(cmd.OutOrStdout(), res.Status, res)
		},
	}

	cmd.Flags().StringSliceVarP(&locations, "location", "l", nil, "Location to sync (repeatable)")
	cmd.Flags().StringVar(&start, "start", "", `First timestamp, e.g. "2024-01-01 00:00:00" (UTC)`)
	cmd.Flags().StringVar(&end, "end", "", "Last timestamp (default: now, truncated to the hour)")
	return cmd
}

func newWundergroundCmd(load commandLoader) *cobra.Command {
	var (
		locations  []string
		history    []string
		forecast   []string
		units      []string
		start, end string
	)

	cmd := &cobra.Command{
		Use:   "wunderground",
		Short: "Sync PurePulse station history and forecasts from Weather Underground",
		Long: "Sync history and hourly forecasts of every Weather Underground station at the given locations. " +
			"Each history mode, forecast mode and units combination has its own archive.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := models.WundergroundExtractRequest{
				Locations: locations,
				History:   []weather.HistoryMode{},
				Forecast:  []weather.ForecastMode{},
			}
			for _, s := range history {
				m, err := weather.ParseHistoryMode(s)
				if err != nil {
					return err
				}
				req.History = append(req.History, m)
			}
			for _, s := range forecast {
				m, err := weather.ParseForecastMode(s)
				if err != nil {
					return err
				}
				req.Forecast = append(req.Forecast, m)
			}
			for _, s := range units {
				u, err := weather.ParseUnits(s)
				if err != nil {
					return err
				}
				req.Units = append(req.Units, u)
			}

			var err error
			if req.Start, err = parseFlag[models.Date]("start", start); err != nil {
				return err
			}
			if req.End, err = parseFlag[models.Date]("end", end); err != nil {
				return err
			}
			if err := validationError(req.Validate()); err != nil {
				return err
			}

			e, err := load(cmd)
			if err != nil {
				return err
			}
			res := e.weather.Extract(cmd.Context(), req.Engine())
			return printResult(cmd.OutOrStdout(), res.Status, res)
		},
	}

	cmd.Flags().StringSliceVarP(&locations, "location", "l", nil, "Location to sync (repeatable)")
	cmd.Flags().StringSliceVar(&history, "history", nil, "History modes: hourly, daily, all")
	cmd.Flags().StringSliceVar(&forecast, "forecast", nil, "Hourly forecast modes: 1day, 2day, 3day, 5day, 10day, 15day")
	cmd.Flags().StringSliceVar(&units, "units", nil, "Units: m (metric) or e (imperial) (default: m)")
	cmd.Flags().StringVar(&start, "start", "", "First history date, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "Last history date, YYYY-MM-DD (default: today)")
	return cmd
}

// parseFlag decodes a non-empty flag value through its TextUnmarshaler.
func parseFlag[T any, PT interface {
	*T
	UnmarshalText([]byte) error
}](name, value string) (*T, error) {
	if value == "" {
		return nil, nil
	}
	v := PT(new(T))
	if err := v.UnmarshalText([]byte(value)); err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return (*T)(v), nil
}

func validationError(errs []models.FieldError) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("--%s: %s", errs[0].Field, errs[0].Message)
}
