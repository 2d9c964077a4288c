package main

import (
	"github.com/spf13/cobra"
	"github.com/srgjo27/batch_invite/internal/platform/config"
	"github.com/srgjo27/batch_invite/internal/platform/logger"
)

type rootOptions struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "batch-invite",
		Short:         "Batch invitation and waitlist engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			logger.Setup(cfg.LogLevel, cfg.IsDevelopment())
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", ".", "directory holding config.yaml")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newExpireCmd(opts),
	)
	return cmd
}
