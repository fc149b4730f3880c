// SPDX-License-Identifier: MIT

// Package cmd implements the spectro command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"spectro/internal/config"
	"spectro/internal/log"
	"spectro/pkg/build"

	"github.com/spf13/cobra"
)

// app holds state shared by every subcommand.
type app struct {
	configPath string
	verbose    bool
	cfg        *config.Config
	out        io.Writer
}

// Execute runs the command line with os.Args. ctx is cancelled on
// interrupt.
func Execute(ctx context.Context) error {
	root := NewRootCommand(os.Stdout)
	root.SetArgs(os.Args[1:])
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}
	info := build.Get()

	root := &cobra.Command{
		Use:           info.Name,
		Short:         build.Description,
		Version:       info.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.SetOut(out)
	root.SetHelpCommand(&cobra.Command{Hidden: true})
	root.SetVersionTemplate("{{.Version}}\n")

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		fmt.Sprintf("Configuration file (default: search %s)", config.FileName))
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"Show debug output")

	root.AddCommand(
		newDevicesCommand(a),
		newLiveCommand(a),
		newBatchCommand(a),
		newWatchCommand(a),
		newVersionCommand(a),
	)
	return root
}

func (a *app) loadConfig() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := log.ParseLevel(cfg.LogLevel)
	if a.verbose {
		level = log.LevelDebug
	}
	log.SetLevel(level)
	if cfg.Path != "" {
		log.Debugf("Using configuration %s", cfg.Path)
	}
	return nil
}

func newVersionCommand(a *app) *cobra.Command {
	var showConfig bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(a.out, build.Get())
			if !showConfig {
				return nil
			}
			data, err := a.cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "\n%s", data)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showConfig, "config-dump", false, "Also print the effective configuration")
	return cmd
}
