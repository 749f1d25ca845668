package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxscribe/internal/config"
	"github.com/fmueller/voxscribe/internal/server"
)

func newServeCmd(app *appState) *cobra.Command {
	var bodyLimit string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve transcription over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr, err := app.newTranscriber()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(tr, server.Options{
				Timeout:   app.cfg.Timeout,
				BodyLimit: bodyLimit,
				Logger:    app.log(),
			})
			app.log().Info("serving", zap.String("addr", app.cfg.ListenAddr), zap.String("engine", tr.EngineName()))
			return srv.Run(ctx, app.cfg.ListenAddr)
		},
	}

	cmd.Flags().String("addr", config.DefaultListenAddr, "Listen address")
	cmd.Flags().StringVar(&bodyLimit, "body-limit", "", "Maximum request body size, e.g. 64M")
	bindFacadeFlags(cmd)
	return cmd
}
