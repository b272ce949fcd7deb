package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Dusre/radar/internal/config"
	"github.com/Dusre/radar/internal/fmi"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// app holds what every subcommand needs; built once before any command runs
type app struct {
	cfg     *config.Config
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	client  *fmi.Client
}

var (
	current    = &app{}
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "wxctl",
	Short: "wxctl - FMI radar viewer toolbox",
	Long: `wxctl queries the same FMI open data feeds as the radar viewer
and inspects its refresh history from the command line.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		current.cfg = cfg
		current.logger = cfg.NewLogger("wxctl", "1.0.0")
		current.logger.SetOutput(cmd.ErrOrStderr())
		current.metrics = metrics.NewCollectorWithRegistry("wxctl", prometheus.NewRegistry())
		current.client = fmi.NewClient(fmi.Config{
			WFSURL:     cfg.FMI.WFSURL,
			WMSURL:     cfg.FMI.WMSURL,
			RadarLayer: cfg.FMI.RadarLayer,
			BBox:       cfg.FMI.BBox,
			Timeout:    cfg.FMI.Timeout,
			Window:     cfg.FMI.WindowLength,
			UserAgent:  cfg.FMI.UserAgent,
		}, current.logger, current.metrics)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
