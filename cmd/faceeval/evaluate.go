package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/faceeval/internal/bootstrap"
	"github.com/example/faceeval/internal/config"
	"github.com/example/faceeval/internal/usecase"
	"github.com/example/faceeval/internal/verification"
)

func newEvaluateCommand(global *globalOptions) *cobra.Command {
	var (
		authorized   string
		unauthorized string
		threshold    float64
		workers      int
		out          string
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the authorized and unauthorized populations and print the metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := global.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cmd.Flags().Changed("threshold") {
				cfg.AcceptanceThreshold = threshold
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var opts []verification.Option
			if !quiet {
				opts = append(opts, verification.WithProgress(progressPrinter(cmd.ErrOrStderr())))
			}
			rt, err := bootstrap.Start(cmd.Context(), cfg, logger, opts...)
			if err != nil {
				return err
			}
			defer rt.Close() //nolint:errcheck

			uc := usecase.NewEvaluationUseCase(rt.Verifier, nil, nil, defaultsFor(cfg), logger)
			report, err := uc.Run(cmd.Context(), usecase.RunRequest{
				AuthorizedRoot:   authorized,
				UnauthorizedRoot: unauthorized,
			})
			if err != nil {
				return err
			}

			if err := printReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if out != "" {
				return writeReport(out, report)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&authorized, "authorized", "", "population root of queries that should be granted (default from config)")
	cmd.Flags().StringVar(&unauthorized, "unauthorized", "", "population root of queries that should be denied (default from config)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "acceptance threshold (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 1, "concurrent matcher calls")
	cmd.Flags().StringVar(&out, "out", "", "write the full JSON report to this file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func defaultsFor(cfg *config.Config) usecase.Defaults {
	return usecase.Defaults{
		AuthorizedRoot:   cfg.IncomingAuthorized(),
		UnauthorizedRoot: cfg.IncomingUnauthorized(),
		ReportTTL:        cfg.Server.ReportTTL,
	}
}

func progressPrinter(w io.Writer) verification.ProgressFunc {
	return func(done, total int) {
		fmt.Fprintf(w, "\r%d/%d", done, total)
		if done == total {
			fmt.Fprintln(w)
		}
	}
}

func printReport(w io.Writer, report *usecase.Report) error {
	s := report.Summary
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", report.RunID)
	fmt.Fprintf(tw, "threshold\t%g\n", s.Threshold)
	fmt.Fprintf(tw, "authorized grant rate\t%.4f\t(%d queries)\n", s.AuthorizedGrantRate, s.AuthorizedCount)
	fmt.Fprintf(tw, "unauthorized grant rate\t%.4f\t(%d queries)\n", s.UnauthorizedGrantRate, s.UnauthorizedCount)
	fmt.Fprintf(tw, "confusion\tTN=%d\tFP=%d\tFN=%d\tTP=%d\n", s.Confusion.TN, s.Confusion.FP, s.Confusion.FN, s.Confusion.TP)
	fmt.Fprintf(tw, "FAR (1-TPR)\t%.4f\n", s.FAR)
	fmt.Fprintf(tw, "FRR (FPR)\t%.4f\n", s.FRR)
	fmt.Fprintf(tw, "AUC\t%.4f\n", s.AUC)
	fmt.Fprintf(tw, "EER\t%.4f\tat %g\n", s.EER, float64(s.EERThreshold))
	if failures := report.Authorized.FailureCount() + report.Unauthorized.FailureCount(); failures > 0 {
		fmt.Fprintf(tw, "degraded queries\t%d\n", failures)
	}
	return tw.Flush()
}

func writeReport(path string, report *usecase.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
