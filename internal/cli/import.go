package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewImportCmd attaches the questions of a question file to a poll.
func NewImportCmd(configPath *string) *cobra.Command {
	var pollID, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a question file into a poll",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			b, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			questions, err := b.pollService(logger).ImportQuestions(cmd.Context(), pollID, f)
			if err != nil {
				return err
			}
			logger.Info("questions imported", zap.String("poll_id", pollID), zap.Int("count", len(questions)))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d questions into %s\n", len(questions), pollID)
			return nil
		},
	}
	cmd.Flags().StringVar(&pollID, "poll", "", "poll id")
	cmd.Flags().StringVar(&file, "file", "", "question file")
	_ = cmd.MarkFlagRequired("poll")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
