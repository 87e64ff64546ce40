package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/purepulse/purepulse/internal/airquality"
	"github.com/purepulse/purepulse/internal/app"
	"github.com/purepulse/purepulse/internal/config"
	"github.com/purepulse/purepulse/internal/telemetry"
	"github.com/purepulse/purepulse/internal/weather"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

type airQualityExtractor interface {
	Extract(ctx context.Context, req airquality.Request) *airquality.Result
}

type weatherExtractor interface {
	Extract(ctx context.Context, req weather.Request) *weather.Result
}

type engines struct {
	airQuality airQualityExtractor
	weather    weatherExtractor
}

// loader wires the engines on first use, so --help never touches config.
type loader func(logger zerolog.Logger) (*engines, error)

// statusError reports an extraction that ended in 400 or 500. The result
// itself has already been printed.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("extraction finished with status %d", e.status)
}

func loadEngines(logger zerolog.Logger) (*engines, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	components, err := app.Build(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &engines{airQuality: components.AirQuality, weather: components.Weather}, nil
}

func newRootCmd(load loader) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "purepulse",
		Short:         "PurePulse - air quality and weather archive sync",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")

	logger := func(cmd *cobra.Command) zerolog.Logger {
		if !verbose {
			return zerolog.Nop()
		}
		return telemetry.NewLogger(telemetry.Config{ServiceName: "purepulse", ServiceVersion: Version}).
			Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()})
	}

	rootCmd.AddCommand(
		newPurpleAirCmd(func(cmd *cobra.Command) (*engines, error) { return load(logger(cmd)) }),
		newWundergroundCmd(func(cmd *cobra.Command) (*engines, error) { return load(logger(cmd)) }),
	)
	return rootCmd
}

// printResult writes the result as indented JSON and maps its status to the
// command outcome.
func printResult(w io.Writer, status int, result any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if status == http.StatusBadRequest || status >= http.StatusInternalServerError {
		return &statusError{status: status}
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(loadEngines).ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
