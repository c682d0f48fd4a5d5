package main

import (
	"fmt"
	"io"

	"github.com/greg-hellings/datadash/pkg/config"
	consolefmt "github.com/greg-hellings/datadash/pkg/report/format"
	"github.com/spf13/cobra"
)

type configView struct {
	File         string `json:"file" yaml:"file" toml:"file"`
	APIBaseURL   string `json:"api_base_url" yaml:"api_base_url" toml:"api_base_url"`
	SessionFile  string `json:"session_file" yaml:"session_file" toml:"session_file"`
	ListLimit    int    `json:"list_limit" yaml:"list_limit" toml:"list_limit"`
	PreviewLimit int    `json:"preview_limit" yaml:"preview_limit" toml:"preview_limit"`
	Timeout      string `json:"timeout" yaml:"timeout" toml:"timeout"`
	Format       string `json:"format" yaml:"format" toml:"format"`
	NoColor      bool   `json:"no_color" yaml:"no_color" toml:"no_color"`
}

func viewOf(c *config.Config) configView {
	return configView{
		File:         c.File,
		APIBaseURL:   c.APIBaseURL,
		SessionFile:  c.SessionFile,
		ListLimit:    c.ListLimit,
		PreviewLimit: c.PreviewLimit,
		Timeout:      c.Timeout.String(),
		Format:       c.Format,
		NoColor:      c.NoColor,
	}
}

func (v configView) write(w io.Writer) error {
	file := v.File
	if file == "" {
		file = "(none)"
	}
	_, err := fmt.Fprintf(w,
		"Config file:    %s\nAPI base URL:   %s\nSession file:   %s\nList limit:     %d\nPreview limit:  %d\nTimeout:        %s\nFormat:         %s\nNo color:       %t\n",
		file, v.APIBaseURL, v.SessionFile, v.ListLimit, v.PreviewLimit, v.Timeout, v.Format, v.NoColor)
	return err
}

func newConfigCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viewOf(a.cfg)
			return a.emit(v, func(_ *consolefmt.ConsoleFormatter, w io.Writer) error {
				return v.write(w)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a config file",
		Long: `Load a YAML or TOML config file on top of the defaults and the environment
and report whether it is valid. Flags of this invocation are not applied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s is valid\n", args[0])
			return viewOf(cfg).write(a.out)
		},
	})
	return c
}
