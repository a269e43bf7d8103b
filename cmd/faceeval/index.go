package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/faceeval/internal/bootstrap"
	"github.com/example/faceeval/internal/grpcclient"
)

func newIndexCommand(global *globalOptions) *cobra.Command {
	index := &cobra.Command{
		Use:   "index",
		Short: "Manage the authorized gallery representation cache",
	}
	index.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Embed the authorized gallery and write its representation cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := global.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			service, err := grpcclient.DialFaceService(cmd.Context(), cfg.Matcher.Address, cfg.Matcher.DialTimeout, logger)
			if err != nil {
				return err
			}
			defer service.Close() //nolint:errcheck

			started := time.Now()
			path, n, err := bootstrap.BuildIndex(cmd.Context(), service, cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("index built", zap.String("path", path), zap.Int("entries", n), zap.Duration("elapsed", time.Since(started)))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d representations to %s\n", n, path)
			return nil
		},
	})
	return index
}
