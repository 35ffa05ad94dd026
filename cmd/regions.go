package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/needscore/internal/config"
	"github.com/sells-group/needscore/internal/geo"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Validate the region file and list its regions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("regions"); err != nil {
			return err
		}
		return runRegions(cmd.Context(), cfg, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(regionsCmd)
}

// runRegions builds the index, which fails on any invalid geometry, and
// prints each region with its bounding box.
func runRegions(ctx context.Context, c *config.Config, out io.Writer) error {
	idx, err := geo.LoadIndex(ctx, c.Data.Regions, loaderOptions(c))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REGION\tVERTICES\tMIN_LON\tMIN_LAT\tMAX_LON\tMAX_LAT")
	_, _ = fmt.Fprintln(w, "------\t--------\t-------\t-------\t-------\t-------")
	for _, name := range idx.Regions() {
		poly := idx.Polygon(name)
		b := poly.Bounds()
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.6f\t%.6f\t%.6f\t%.6f\n",
			name,
			poly.NumCoords()-1,
			b.Min(0), b.Min(1), b.Max(0), b.Max(1),
		)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "%d regions OK\n", idx.Len())
	return nil
}
