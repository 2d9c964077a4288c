package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newExpireCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire stale payment links once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			n, err := a.engine.ExpireStale(cmd.Context())
			if err != nil {
				return err
			}

			log.Info().Int("expired", n).Msg("expiry sweep finished")
			return nil
		},
	}
}
