package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/faceeval/internal/bootstrap"
	"github.com/example/faceeval/internal/imageprocessor"
	"github.com/example/faceeval/internal/usecase"
)

func newVerifyCommand(global *globalOptions) *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "verify --identity ID IMAGE",
		Short: "Decide whether IMAGE grants access to the claimed identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if identity == "" {
				return errors.New("--identity is required")
			}
			cfg, logger, err := global.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			upload, err := imageprocessor.Read(f, args[0], "")
			if err != nil {
				return err
			}

			rt, err := bootstrap.Start(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close() //nolint:errcheck

			uc := usecase.NewEvaluationUseCase(rt.Verifier, nil, nil, defaultsFor(cfg), logger)
			res, err := uc.VerifyUser(cmd.Context(), identity, upload.Image())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatVerdict(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "claimed identity")
	return cmd
}

func formatVerdict(res *usecase.VerifyResult) string {
	verdict := "DENIED"
	if res.Granted {
		verdict = "GRANTED"
	}
	distance := "no match"
	if !res.Distance.IsInf() {
		distance = fmt.Sprintf("%.4f", float64(res.Distance))
	}
	return fmt.Sprintf("%s identity=%s distance=%s", verdict, res.Identity, distance)
}
