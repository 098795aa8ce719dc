// Package cli implements the forumdb command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/forumdb/config"
	"github.com/unkn0wn-root/forumdb/hooks"
	"github.com/unkn0wn-root/forumdb/log"
)

// RootOptions holds global flags and the state PersistentPreRunE loads.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	Config config.Config
	Logger log.Logger
	Hooks  hooks.Hooks
	// closeLog drains the hooks and flushes the logger; set by
	// PersistentPreRunE.
	closeLog func()
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "forumdb",
		Short: "forumdb - sorted-set storage and coherent caches",
		Long: `Operate a forumdb deployment: apply the schema, inspect sorted sets,
broadcast cache invalidations, and supervise a single-host cluster.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, warns, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			if opts.Verbose {
				cfg.Log.Level = "debug"
			}
			l, closeLog, err := NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to build logger", err)
			}
			for _, w := range warns {
				l.Warn("config", log.Fields{"warning": w})
			}
			h := NewHooks(cfg.Log, cmd.ErrOrStderr())
			opts.Config, opts.Logger, opts.Hooks = cfg, l, h
			opts.closeLog = func() {
				h.Close()
				closeLog()
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.closeLog != nil {
				opts.closeLog()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config (FORUMDB_* variables override it)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewZSetCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))
	cmd.AddCommand(NewSuperviseCommand(opts))

	return cmd
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
