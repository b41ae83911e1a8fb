package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	appMiddleware "github.com/markdave123-py/Contexta/internal/api/middlewares"
	"github.com/markdave123-py/Contexta/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Long: `Sign a service token with API_JWT_SECRET. Send it to the API as
"Authorization: Bearer <token>".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadConfig()
			if cfg.APIJWTSecret == "" {
				return errors.New("API_JWT_SECRET is not set")
			}
			tok, err := appMiddleware.IssueServiceToken([]byte(cfg.APIJWTSecret), subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "embed-cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime (0 = no expiry)")
	return cmd
}
