package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/greg-hellings/datadash/pkg/api"
	"github.com/greg-hellings/datadash/pkg/dashboard"
	"github.com/greg-hellings/datadash/pkg/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newDashboardCmd(a *app) *cobra.Command {
	var reportDir string
	c := &cobra.Command{
		Use:   "dashboard",
		Short: "Open the interactive dashboard",
		Long: `Open the interactive terminal dashboard: browse the recent datasets, view
averages, type distribution and metric charts for the selected one, refresh
the list, upload new CSV files and save PDF reports.

No timeout applies to the dashboard; a slow request keeps its panel loading.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("the dashboard needs an interactive terminal")
			}
			// Log lines on stderr would corrupt the alternate screen.
			a.logger.Info("Starting dashboard", "api_base_url", a.cfg.APIBaseURL)
			a.logger = slog.New(slog.DiscardHandler)

			svc, err := a.services()
			if err != nil {
				return err
			}
			if !svc.store.Authenticated() {
				return api.ErrNoSession
			}

			ctrl := dashboard.NewController(svc.datasets, svc.analytics, dashboard.Options{
				ListLimit:    a.cfg.ListLimit,
				PreviewLimit: a.cfg.PreviewLimit,
				Logger:       a.logger,
			})
			return tui.Run(cmd.Context(), ctrl, tui.Options{
				Username:  svc.store.Username(),
				BaseURL:   svc.client.BaseURL(),
				Reports:   svc.analytics,
				ReportDir: reportDir,
			})
		},
	}
	c.Flags().StringVar(&reportDir, "report-dir", ".", "Directory PDF reports are saved to")
	return c
}
