package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quiz-round-service/internal/auth"
	"quiz-round-service/internal/config"
)

// NewTokenCmd mints a bearer token for an actor.
func NewTokenCmd(configPath *string) *cobra.Command {
	var user, username string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a participant or admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth secret not configured")
			}
			if username == "" {
				username = user
			}
			tokens := auth.NewTokenService(cfg.Auth.Secret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
			tok, err := tokens.Generate(user, username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "actor id (token subject)")
	cmd.Flags().StringVar(&username, "username", "", "display username (defaults to --user)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
