package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/unsearch/syncd/internal/ws"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	UserID string
	Secret string
	TTL    time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session auth token",
		Long: `Mint a JWT a session can present in its AUTH frame.

In production tokens come from the account frontend; this command
exists for local development and smoke testing. The secret comes from
--secret or SYNCD_JWT_SECRET.

Example:
  SYNCD_JWT_SECRET=dev-secret syncd token --user u-123 --ttl 1h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "account id to embed in the token (required)")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "HMAC signing secret (defaults to SYNCD_JWT_SECRET)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	secret := opts.Secret
	if secret == "" {
		secret = os.Getenv("SYNCD_JWT_SECRET")
	}
	if secret == "" {
		return NewExitError(ExitCommandError, "signing secret is not set (--secret or SYNCD_JWT_SECRET)")
	}

	token, err := ws.NewTokenVerifier(secret).Sign(opts.UserID, opts.TTL)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to sign token", err)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(map[string]any{"token": token, "user_id": opts.UserID})
	}
	return formatter.Success(token)
}
