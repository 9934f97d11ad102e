package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SebastienMelki/pixel/internal/export"
	"github.com/SebastienMelki/pixel/internal/store"
)

var (
	exportOut         string
	exportSince       string
	exportLimit       int
	exportCompression string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored events to a Parquet file",
	Long: `Export reads stored events in arrival order and writes them to a single
Parquet file. Use --since to export only events received after an RFC3339
timestamp.`,
	Example: `  collector export --out events.parquet
  collector export --out today.parquet --since 2024-06-15T00:00:00Z --compression zstd`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("compression") {
			cfg.Export.Compression = exportCompression
		}

		since, err := parseSince(exportSince)
		if err != nil {
			return err
		}

		logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

		st, err := store.Open(cfg.Collector.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		rows, err := st.List(cmd.Context(), since, exportLimit)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}

		w, err := export.NewWriter(cfg.Export)
		if err != nil {
			return err
		}
		if err := w.WriteFile(exportOut, rows); err != nil {
			if errors.Is(err, export.ErrNoRows) {
				fmt.Fprintln(cmd.OutOrStdout(), "no events to export")
				return nil
			}
			return fmt.Errorf("write parquet: %w", err)
		}

		logger.Info("events exported",
			"path", exportOut,
			"events", len(rows),
			"compression", cfg.Export.Compression,
		)
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d events to %s\n", len(rows), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "events.parquet", "output file")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "only events received at or after this RFC3339 time")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum number of events (0 for all)")
	exportCmd.Flags().StringVar(&exportCompression, "compression", "", "snappy, gzip, zstd or none")
	rootCmd.AddCommand(exportCmd)
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --since (expected RFC3339): %w", err)
	}
	return t, nil
}
