package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/srgjo27/batch_invite/internal/adapter/handler"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the trigger API and run timers",
		Long:  `Serve the HTTP trigger API, drive cool-off timers and sweep expired payment links until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         opts.cfg.Server.Address,
		Handler:      handler.NewRouter(handler.NewTriggerHandler(a.engine)),
		ReadTimeout:  opts.cfg.Server.ReadTimeout,
		WriteTimeout: opts.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.links.RunExpirySweeper(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.cfg.Server.ShutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		if closeErr := a.Close(shutdownCtx); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to release resources")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("server exiting")
	return nil
}
