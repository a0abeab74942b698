package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/hotspots/internal/hotspot"
)

var (
	queryFrom      string
	queryTo        string
	queryType      string
	queryFormat    string
	queryEps       float64
	queryMinPoints int
	queryMinCount  int
	queryGridSize  float64
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Print DBSCAN hotspot clusters",
	Long:  "Clusters service requests with DBSCAN. Without --type every category is clustered together and rows carry no category.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p := queryParams()
		p.EpsilonMeters = queryEps
		p.MinPoints = queryMinPoints

		return runQuery(cmd, func(e *hotspot.Engine) (any, error) {
			return e.Clusters(cmd.Context(), p.Clamp())
		})
	},
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Print grid hotspot cells",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p := queryParams()
		p.MinCount = queryMinCount
		p.GridSizeMeters = queryGridSize

		return runQuery(cmd, func(e *hotspot.Engine) (any, error) {
			return e.Grid(cmd.Context(), p.Clamp())
		})
	},
}

// queryParams parses the flags shared by the query commands.
func queryParams() hotspot.Params {
	return hotspot.ParseParams(hotspot.RawParams{
		From:       queryFrom,
		To:         queryTo,
		Categories: queryType,
	})
}

func runQuery(cmd *cobra.Command, run func(*hotspot.Engine) (any, error)) error {
	if err := cfg.Validate("query"); err != nil {
		return err
	}
	if queryFormat != "json" && queryFormat != "yaml" {
		return eris.Errorf("unsupported format %q (json or yaml)", queryFormat)
	}

	reader, err := openReader(cmd.Context())
	if err != nil {
		return err
	}
	defer reader.Close() //nolint:errcheck

	rows, err := run(newEngine(guardReader(reader, nil)))
	if err != nil {
		return eris.Wrap(err, "compute hotspots")
	}
	return writeRows(cmd.OutOrStdout(), queryFormat, rows)
}

func writeRows(w io.Writer, format string, rows any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(rows), "encode json")
	}
}

func init() {
	for _, c := range []*cobra.Command{clustersCmd, gridCmd} {
		c.Flags().StringVar(&queryFrom, "from", "", "inclusive start (RFC 3339 or YYYY-MM-DD)")
		c.Flags().StringVar(&queryTo, "to", "", "exclusive end (RFC 3339 or YYYY-MM-DD)")
		c.Flags().StringVar(&queryType, "type", "", "comma separated categories (default all)")
		c.Flags().StringVar(&queryFormat, "format", "json", "output format: json or yaml")
		rootCmd.AddCommand(c)
	}
	clustersCmd.Flags().Float64Var(&queryEps, "eps", hotspot.DefaultEpsilonMeters, "neighbourhood radius in meters")
	clustersCmd.Flags().IntVar(&queryMinPoints, "min-points", hotspot.DefaultMinPoints, "points needed to form a cluster")
	gridCmd.Flags().IntVar(&queryMinCount, "min-count", hotspot.DefaultMinCount, "minimum requests per cell")
	gridCmd.Flags().Float64Var(&queryGridSize, "grid", hotspot.DefaultGridSizeMeters, "cell edge length in meters")
}
