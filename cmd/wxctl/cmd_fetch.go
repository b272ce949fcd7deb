package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/spf13/cobra"

	"github.com/Dusre/radar/internal/display"
	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/radar"
)

var lightningCmd = &cobra.Command{
	Use:   "lightning",
	Short: "List recent lightning strikes",
	Long:  `Fetch the lightning strikes of the observation window from FMI.`,
	Args:  cobra.NoArgs,
	RunE:  runLightning,
}

var observationsCmd = &cobra.Command{
	Use:       "observations <layer>",
	Short:     "List the latest station observations of a layer",
	Long:      `Fetch the latest valid value per station for temperature, wind, clouds, humidity or pressure.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"temperature", "wind", "clouds", "humidity", "pressure"},
	RunE:      runObservations,
}

var radarTimesCmd = &cobra.Command{
	Use:   "radar-times",
	Short: "Show the radar history timeline",
	Long:  `Read the newest radar time from the WMS capabilities and list the history frames.`,
	Args:  cobra.NoArgs,
	RunE:  runRadarTimes,
}

func init() {
	rootCmd.AddCommand(lightningCmd)
	rootCmd.AddCommand(observationsCmd)
	rootCmd.AddCommand(radarTimesCmd)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func runLightning(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	strikes, err := current.client.FetchLightning(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch lightning: %w", err)
	}

	now := time.Now()
	if jsonOutput {
		fc := geojson.NewFeatureCollection()
		for _, s := range strikes {
			f := geojson.NewPointFeature([]float64{s.Lng, s.Lat})
			f.SetProperty("time", s.Time.UTC().Format(time.RFC3339))
			f.SetProperty("intensity", s.Intensity)
			f.SetProperty("color", display.StrikeColor(now.Sub(s.Time).Minutes()))
			fc.AddFeature(f)
		}
		return printJSON(out, fc)
	}

	loc := current.cfg.Location()
	w := newTable(out)
	fmt.Fprintln(w, "TIME\tLAT\tLNG\tKA\tAGE")
	for _, s := range strikes {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.1f\t%d min\n",
			display.ClockTime(s.Time, loc), s.Lat, s.Lng, s.Intensity, display.AgeMinutes(s.Time, now))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d strikes\n", len(strikes))
	return nil
}

func runObservations(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	layer, err := models.ParseLayer(args[0])
	if err != nil {
		return err
	}
	if !layer.IsStation() {
		return fmt.Errorf("%s is not a station layer", layer)
	}

	ctx := cmd.Context()
	loc := current.cfg.Location()
	w := newTable(out)

	if layer == models.LayerWind {
		obs, err := current.client.FetchWind(ctx)
		if err != nil {
			return fmt.Errorf("fetch wind: %w", err)
		}
		obs = models.NormalizeWind(obs)
		if jsonOutput {
			return printJSON(out, obs)
		}
		fmt.Fprintln(w, "STATION\tTIME\tSPEED\tDIR")
		for _, o := range obs {
			fmt.Fprintf(w, "%s\t%s\t%.1f m/s\t%.0f° %s\n",
				o.Station, display.ClockTime(o.Time, loc), o.Speed, o.Direction, display.Cardinal(o.Direction))
		}
		return w.Flush()
	}

	obs, err := current.client.FetchLayer(ctx, layer)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", layer, err)
	}
	if jsonOutput {
		return printJSON(out, obs)
	}
	fmt.Fprintln(w, "STATION\tFMISID\tTIME\tVALUE")
	for _, o := range obs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\n", o.Station, o.FMISID, display.ClockTime(o.Time, loc), o.Value)
	}
	return w.Flush()
}

func runRadarTimes(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	p := current.cfg.Playback
	times, err := current.client.FetchRadarTimes(cmd.Context(), p.MaxHistorySteps, p.HistoryStep)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "capabilities unavailable (%v), using fallback times\n", err)
		times = radar.FallbackTimes(time.Now(), p.MaxHistorySteps, p.HistoryStep)
	}

	if jsonOutput {
		iso := make([]string, 0, len(times))
		for _, t := range times {
			iso = append(iso, radar.FormatISO(t))
		}
		return printJSON(out, iso)
	}

	loc := current.cfg.Location()
	w := newTable(out)
	fmt.Fprintln(w, "STEP\tLABEL\tTIME")
	for i, t := range times {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, display.TimeLabel(t, i == 0, loc), radar.FormatISO(t))
	}
	return w.Flush()
}
