package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/greg-hellings/datadash/pkg/analytics"
	"github.com/greg-hellings/datadash/pkg/datasets"
	consolefmt "github.com/greg-hellings/datadash/pkg/report/format"
	"github.com/spf13/cobra"
)

func newDatasetsCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:     "datasets",
		Aliases: []string{"ds"},
		Short:   "List, upload and inspect datasets",
		Long: strings.TrimSpace(`
Work with uploaded CSV datasets. The backend keeps the five most recent
datasets per user; uploading a sixth drops the oldest.

Dataset arguments accept a full id or any unambiguous prefix of one of the
recent datasets.

Examples:
  datadash datasets list
  datadash datasets upload equipment.csv
  datadash datasets summary 1f0c
  datadash datasets preview 1f0c --limit 20 --format json
  datadash datasets show 1f0c
  datadash datasets report 1f0c --out reports/
`),
	}
	c.AddCommand(newDatasetsListCmd(a))
	c.AddCommand(newDatasetsUploadCmd(a))
	c.AddCommand(newDatasetsSummaryCmd(a))
	c.AddCommand(newDatasetsPreviewCmd(a))
	c.AddCommand(newDatasetsShowCmd(a))
	c.AddCommand(newDatasetsReportCmd(a))
	return c
}

func newDatasetsListCmd(a *app) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "list",
		Short: "List the most recent datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.ListLimit
			}
			start := time.Now()
			list, err := svc.datasets.ListRecent(ctx, limit)
			if err != nil {
				return err
			}
			a.logger.Info("Datasets listed", "count", len(list), "duration", since(start))
			return a.emit(list, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
				return f.RenderDatasets(list, "", w)
			})
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", datasets.MaxRecent, "Number of datasets to list (1-5)")
	return c
}

func newDatasetsUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Upload a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			start := time.Now()
			res, err := svc.datasets.UploadFile(ctx, args[0])
			if err != nil {
				return err
			}
			a.logger.Info("Upload complete", "id", res.Dataset.ID, "duration", since(start))
			return a.emit(res, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
				fmt.Fprintf(w, "Uploaded %s as %s\n", res.Dataset.Filename, res.Dataset.ID)
				if res.Summary == nil || !res.Dataset.Ready() {
					if line := consolefmt.StatusLine(res.Dataset); line != "" {
						fmt.Fprintln(w, line)
					}
					return nil
				}
				fmt.Fprintln(w)
				return f.RenderSummary(res.Dataset, res.Summary, w)
			})
		},
	}
}

// resolveDataset expands an id or prefix against the recent list. A full UUID
// that is not listed is still accepted.
func resolveDataset(ctx context.Context, svc *services, arg string) (datasets.Dataset, error) {
	list, err := svc.datasets.ListRecent(ctx, datasets.MaxRecent)
	if err != nil {
		return datasets.Dataset{}, err
	}
	id, err := list.ResolvePrefix(arg)
	if err != nil {
		if parsed, perr := uuid.Parse(strings.TrimSpace(arg)); perr == nil {
			return datasets.Dataset{ID: parsed.String()}, nil
		}
		return datasets.Dataset{}, err
	}
	d, _ := list.Find(id)
	return d, nil
}

type summaryOutput struct {
	Dataset datasets.Dataset `json:"dataset" yaml:"dataset" toml:"dataset"`
	Summary datasets.Summary `json:"summary" yaml:"summary" toml:"summary"`
}

func newDatasetsSummaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <id>",
		Short: "Show summary analytics of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			d, err := resolveDataset(ctx, svc, args[0])
			if err != nil {
				return err
			}
			sum, err := svc.analytics.FetchSummary(ctx, d.ID)
			if err != nil {
				return err
			}
			return a.emit(summaryOutput{Dataset: d, Summary: *sum}, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
				return f.RenderSummary(d, sum, w)
			})
		},
	}
}

func newDatasetsPreviewCmd(a *app) *cobra.Command {
	var limit int
	var withMetrics bool
	c := &cobra.Command{
		Use:   "preview <id>",
		Short: "Show the first rows of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			d, err := resolveDataset(ctx, svc, args[0])
			if err != nil {
				return err
			}
			pv, err := svc.analytics.FetchPreview(ctx, d.ID, limit)
			if err != nil {
				return err
			}
			if withMetrics {
				m := pv.Metrics()
				return a.emit(m, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
					return renderMetrics(m, w)
				})
			}
			return a.emit(pv, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
				if line := consolefmt.StatusLine(d); line != "" {
					fmt.Fprintln(w, line)
				}
				return f.RenderPreview(pv, w)
			})
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", analytics.DetailPreviewLimit, "Number of rows (1-500)")
	c.Flags().BoolVar(&withMetrics, "metrics", false, "Show the Flowrate, Pressure and Temperature series instead of raw rows")
	return c
}

func renderMetrics(m analytics.Metrics, w io.Writer) error {
	if !m.HasData() {
		_, err := fmt.Fprintln(w, "No numeric data in preview.")
		return err
	}
	cell := func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.2f", *v)
	}
	fmt.Fprintf(w, "%-24s %12s %12s %12s\n", "Label", analytics.ColumnFlowrate, analytics.ColumnPressure, analytics.ColumnTemperature)
	for i, label := range m.Labels {
		if _, err := fmt.Fprintf(w, "%-24s %12s %12s %12s\n", label, cell(m.Flowrate[i]), cell(m.Pressure[i]), cell(m.Temperature[i])); err != nil {
			return err
		}
	}
	return nil
}

func newDatasetsShowCmd(a *app) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "show <id>",
		Short: "Show summary and preview rows of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			d, err := resolveDataset(ctx, svc, args[0])
			if err != nil {
				return err
			}
			start := time.Now()
			snap, err := svc.analytics.FetchSnapshot(ctx, d.ID, limit)
			if err != nil {
				return err
			}
			if snap.Dataset.ID == "" {
				snap.Dataset = d
			}
			a.logger.Info("Dataset loaded", "id", d.ID, "rows", snap.Preview.Returned, "duration", since(start))
			return a.emit(snap, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
				return f.RenderSnapshot(snap, w)
			})
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", analytics.DetailPreviewLimit, "Number of preview rows (1-500)")
	return c
}

func newDatasetsReportCmd(a *app) *cobra.Command {
	var out string
	c := &cobra.Command{
		Use:   "report <id>",
		Short: "Download the PDF report of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			d, err := resolveDataset(ctx, svc, args[0])
			if err != nil {
				return err
			}
			data, err := svc.analytics.DownloadReport(ctx, d.ID)
			if err != nil {
				return err
			}

			target := reportPath(out, d.ID)
			if dir := filepath.Dir(target); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			fmt.Fprintf(a.out, "Saved %s (%d bytes)\n", target, len(data))
			return nil
		},
	}
	c.Flags().StringVarP(&out, "out", "o", "", "Output file or directory (default: dataset_<id>.pdf)")
	return c
}

// reportPath resolves --out: empty means the default name in the current
// directory, an existing directory or a trailing separator means the default
// name inside it.
func reportPath(out, id string) string {
	name := analytics.ReportFilename(id)
	if out == "" {
		return name
	}
	if strings.HasSuffix(out, string(os.PathSeparator)) || strings.HasSuffix(out, "/") {
		return filepath.Join(out, name)
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, name)
	}
	return out
}
