package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/greg-hellings/datadash/pkg/analytics"
	"github.com/greg-hellings/datadash/pkg/api"
	"github.com/greg-hellings/datadash/pkg/config"
	"github.com/greg-hellings/datadash/pkg/datasets"
	consolefmt "github.com/greg-hellings/datadash/pkg/report/format"
	"github.com/greg-hellings/datadash/pkg/session"
	"github.com/spf13/cobra"
)

// build-time override (e.g. -ldflags "-X main.version=1.2.3")
var version = "dev"

// app carries per-invocation state shared by subcommands.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// root-level flags
	verbose bool
	debug   bool
	cfgFile string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	a := &app{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
	root := newRootCmd(a)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		// If Execute() returns an error, logging may or may not be initialized yet.
		fmt.Fprintf(os.Stderr, "Error: %s\n", describeError(err))
		os.Exit(1)
	}
}

// describeError adds a hint to errors a user can act on.
func describeError(err error) string {
	switch {
	case errors.Is(err, api.ErrNoSession):
		return "not logged in; run 'datadash login' first"
	case api.IsUnauthorized(err):
		return "session expired or was rejected; run 'datadash login' again"
	case errors.Is(err, api.ErrInvalidCredentials):
		return "Invalid credentials"
	}
	return err.Error()
}

// newRootCmd creates the root Cobra command.
func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datadash",
		Short: "Equipment CSV analytics client",
		Long: strings.TrimSpace(`
datadash - client for the equipment CSV analytics service

Sign in once with 'datadash login'; the session is kept in your user config
directory until you log out or the server rejects it. Upload CSV files, list
the five most recent datasets and inspect their summary, preview rows or PDF
report, or browse everything in the interactive dashboard.`),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.initLogging()
			cfg, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg
			a.logger.Debug("Configuration loaded",
				"file", cfg.File,
				"api_base_url", cfg.APIBaseURL,
				"format", cfg.Format)
			return nil
		},
	}
	cmd.SetIn(a.in)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose (info) logging")
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging (overrides --verbose)")
	pf.StringVar(&a.cfgFile, "config", "", "Config file (default: <user config dir>/datadash/config.yaml)")
	pf.String("api-base-url", "", "Backend API base URL (env DATADASH_API_BASE_URL)")
	pf.String("session-file", "", "Session file (default: <user config dir>/datadash/session.yaml)")
	pf.StringP("format", "f", config.DefaultFormat, "Output format: table|json|yaml|toml")
	pf.Bool("no-color", false, "Disable ANSI colors (table format)")
	pf.Duration("timeout", config.DefaultTimeout, "Timeout for each command (0 disables)")
	cmd.Version = version

	// Add subcommands
	cmd.AddCommand(newLoginCmd(a))
	cmd.AddCommand(newLogoutCmd(a))
	cmd.AddCommand(newWhoamiCmd(a))
	cmd.AddCommand(newDatasetsCmd(a))
	cmd.AddCommand(newDashboardCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd(a))

	return cmd
}

// newVersionCmd prints version info (simple helper).
func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "datadash version: %s\n", version)
		},
	}
}

func (a *app) initLogging() {
	var level slog.Level
	switch {
	case a.debug:
		level = slog.LevelDebug
	case a.verbose:
		level = slog.LevelInfo
	default:
		level = slog.LevelWarn
	}

	handler := slog.NewTextHandler(a.errOut, &slog.HandlerOptions{
		Level: level,
	})
	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)
	slog.Debug("Logging initialized", "level", level.String())
}

// commandContext bounds a command by the configured timeout.
func (a *app) commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if a.cfg == nil || a.cfg.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, a.cfg.Timeout)
}

func (a *app) sessionStore() *session.Store {
	return session.NewStore(session.NewFileStorage(a.cfg.SessionFile), a.logger)
}

func (a *app) client(store api.Credentials) (*api.Client, error) {
	return api.NewClient(api.Config{BaseURL: a.cfg.APIBaseURL, Logger: a.logger}, store)
}

// services wires the session, gateway, repository and projection.
type services struct {
	store     *session.Store
	client    *api.Client
	datasets  *datasets.Repository
	analytics *analytics.Projection
}

func (a *app) services() (*services, error) {
	store := a.sessionStore()
	c, err := a.client(store)
	if err != nil {
		return nil, err
	}
	return &services{
		store:     store,
		client:    c,
		datasets:  datasets.NewRepository(c, a.logger),
		analytics: analytics.NewProjection(c, a.logger),
	}, nil
}

func (a *app) formatter() *consolefmt.ConsoleFormatter {
	f := consolefmt.NewConsoleFormatter()
	f.EnableColors = !a.cfg.NoColor
	return f
}

// emit writes v in the configured structured format, or calls table otherwise.
func (a *app) emit(v any, table func(f *consolefmt.ConsoleFormatter, w io.Writer) error) error {
	if consolefmt.Structured(a.cfg.Format) {
		return consolefmt.Encode(a.cfg.Format, v, a.out)
	}
	return table(a.formatter(), a.out)
}

func since(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
