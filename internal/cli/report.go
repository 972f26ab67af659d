package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-round-service/internal/report"
)

// NewReportCmd writes the results sheet of a poll to stdout, a file or S3.
func NewReportCmd(configPath *string) *cobra.Command {
	var pollID, out string
	var toS3, description bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export poll results as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfigAndLogger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			b, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			rep, err := b.aggregator(logger).Build(ctx, pollID)
			if err != nil {
				return err
			}

			if toS3 {
				sink, err := report.NewS3Sink(ctx, report.S3Config{
					Bucket: cfg.Report.S3Bucket,
					Prefix: cfg.Report.S3Prefix,
					Region: cfg.Report.Region,
				}, logger)
				if err != nil {
					return err
				}
				key, err := sink.Upload(ctx, rep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded s3://%s/%s\n", cfg.Report.S3Bucket, key)
				return nil
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			write := report.WriteCSV
			if description {
				write = report.WriteDescriptionCSV
			}
			if err := write(w, rep); err != nil {
				return err
			}
			logger.Info("report written", zap.String("poll_id", pollID), zap.Int("rows", len(rep.Rows)))
			return nil
		},
	}
	cmd.Flags().StringVar(&pollID, "poll", "", "poll id")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&toS3, "s3", false, "upload to the configured S3 bucket")
	cmd.Flags().BoolVar(&description, "description", false, "write the poll description sheet instead of results")
	_ = cmd.MarkFlagRequired("poll")
	return cmd
}
