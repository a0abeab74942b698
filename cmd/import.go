package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hotspots/internal/fetcher"
	"github.com/sells-group/hotspots/internal/source"
)

// OttawaExportURL is the City of Ottawa current-year 311 export.
const OttawaExportURL = "https://311opendatastorage.blob.core.windows.net/311data/311opendata_currentyear.csv"

var (
	importFile      string
	importURL       string
	importBatchSize int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a 311 CSV export into the store",
	Long:  "Reads a 311 CSV export from --file, or downloads it from --url, and upserts every request keyed by its service request id.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("import"); err != nil {
			return err
		}
		ctx := cmd.Context()

		path := importFile
		if path == "" {
			dir, err := os.MkdirTemp("", "hotspots-import-")
			if err != nil {
				return eris.Wrap(err, "create download dir")
			}
			defer os.RemoveAll(dir) //nolint:errcheck

			path = filepath.Join(dir, "export.csv")
			if err := downloadExport(ctx, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), importURL, path); err != nil {
				return err
			}
		}

		records, stats, err := readExport(ctx, path)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		upserted, err := upsertBatches(ctx, st, records, importBatchSize)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.String("csv", path),
			zap.Int("rows", stats.Rows),
			zap.Int("skipped", stats.Skipped),
			zap.Int("ungeocoded", stats.Ungeocoded),
			zap.Int("duplicates", stats.Duplicates),
			zap.Int64("upserted", upserted),
		)
		return nil
	},
}

func downloadExport(ctx context.Context, f fetcher.Fetcher, url, path string) error {
	if _, err := f.DownloadToFile(ctx, url, path); err != nil {
		return eris.Wrap(err, "download export")
	}
	return nil
}

func readExport(ctx context.Context, path string) ([]source.Record, source.CSVStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, source.CSVStats{}, eris.Wrap(err, "open csv")
	}
	defer f.Close() //nolint:errcheck

	return source.ReadCSV(ctx, f, source.OttawaColumns)
}

// upsertBatches writes records in chunks so one failed batch does not
// roll back rows that were already committed.
func upsertBatches(ctx context.Context, st source.Store, records []source.Record, size int) (int64, error) {
	if size <= 0 {
		size = len(records)
	}
	var total int64
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		n, err := st.Upsert(ctx, records[start:end])
		if err != nil {
			return total, eris.Wrapf(err, "upsert rows %d-%d", start, end)
		}
		total += n
		zap.L().Debug("upserted batch", zap.Int("end", end), zap.Int("of", len(records)))
	}
	return total, nil
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to a local CSV export (skips the download)")
	importCmd.Flags().StringVar(&importURL, "url", OttawaExportURL, "CSV export to download when --file is not set")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 5000, "records per upsert batch")
	rootCmd.AddCommand(importCmd)
}
