package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dusre/radar/internal/geo"
)

var measureZoom float64

var measureCmd = &cobra.Command{
	Use:   "measure <lat,lng> <lat,lng>",
	Short: "Measure the distance between two points",
	Long:  `Measure the straight-line distance on the ETRS-TM35FIN map plane.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runMeasure,
	// measuring needs no configuration
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

func init() {
	measureCmd.Flags().Float64Var(&measureZoom, "zoom", 4, "map zoom level used for the pixel length")
	rootCmd.AddCommand(measureCmd)
}

func parsePoint(s string) (geo.LatLng, error) {
	lat, lng, ok := strings.Cut(s, ",")
	if !ok {
		return geo.LatLng{}, fmt.Errorf("%q: expected lat,lng", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return geo.LatLng{}, fmt.Errorf("%q: bad latitude", s)
	}
	ln, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return geo.LatLng{}, fmt.Errorf("%q: bad longitude", s)
	}
	return geo.LatLng{Lat: la, Lng: ln}, nil
}

func runMeasure(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	from, err := parsePoint(args[0])
	if err != nil {
		return err
	}
	to, err := parsePoint(args[1])
	if err != nil {
		return err
	}

	m, err := geo.Measure(from, to, measureZoom)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, m)
	}

	fmt.Fprintln(out, m.Label)
	fmt.Fprintf(out, "%.0f px at zoom %g (%.1f m/px)\n", m.Pixels, m.Zoom, m.Resolution)
	return nil
}
