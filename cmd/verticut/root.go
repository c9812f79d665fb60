package main

import (
	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/verticut/internal/config"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
)

type commandContext struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	logger     *logging.Logger
}

// load reads config once; flags override nothing here, commands do that themselves
func (c *commandContext) load(cmd *cobra.Command) error {
	if c.cfg != nil {
		return nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if c.logLevel != "" {
		level = c.logLevel
	}
	c.cfg = cfg
	c.logger = logging.NewWithWriter(cmd.ErrOrStderr(), level)
	return nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "verticut",
		Short:         "Render vertical clips with burned-in captions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&ctx.configPath, "config", "", "Path to config file (defaults and VERTICUT_* env when empty)")
	root.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "warn", "Log level")

	root.AddCommand(
		newExportCommand(ctx),
		newProbeCommand(ctx),
		newPresetsCommand(),
		newTokenCommand(ctx),
	)
	return root
}
