package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"weather-archive-server/internal/modules/weather"
	"weather-archive-server/internal/modules/weather/ingest"
	"weather-archive-server/internal/observability"
)

type importOptions struct {
	output string
	pretty bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import xlsx workbooks as one batch",
		Long: "Import reads every FILE into a single transaction, exactly like one\n" +
			"HTTP upload, and writes the batch report as JSON.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Indent the JSON report")

	return cmd
}

func runImport(ctx context.Context, stdout io.Writer, paths []string, opts importOptions) error {
	uploads, err := uploadsFromPaths(paths)
	if err != nil {
		return withCode(exitUsage, err)
	}

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	feature := weather.NewFeature(s.conn, s.dialect, s.cfg, observability.NewMetricsWith(prometheus.NewRegistry()), s.logger)
	report, runErr := feature.Coordinator.ProcessUpload(ctx, uploads)

	if report != nil {
		w := stdout
		if opts.output != "" {
			f, err := os.Create(opts.output)
			if err != nil {
				return withCode(exitFailure, fmt.Errorf("create report: %w", err))
			}
			defer f.Close()
			w = f
		}
		if err := writeReport(w, report, opts.pretty); err != nil {
			return err
		}
	}
	if runErr != nil {
		return withCode(exitRolledBack, runErr)
	}
	return nil
}

func uploadsFromPaths(paths []string) ([]ingest.Upload, error) {
	uploads := make([]ingest.Upload, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		path := p
		uploads = append(uploads, ingest.Upload{
			Name: filepath.Base(path),
			Size: info.Size(),
			Open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}
	return uploads, nil
}

func writeReport(w io.Writer, report *ingest.BatchReport, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
