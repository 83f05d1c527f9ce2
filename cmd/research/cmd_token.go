package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/research/internal/auth"
)

var tokenFlags struct {
	subject string
	scopes  []string
	ttl     time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue JWTs and hash API keys for the API",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Sign a JWT with auth.jwt_secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not set")
		}
		ttl := tokenFlags.ttl
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}
		jwt := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl)
		token, err := jwt.Generate(tokenFlags.subject, tokenFlags.scopes)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash <api-key>",
	Short: "Print the bcrypt hash to put in auth.api_key_hashes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := auth.HashAPIKey(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), h)
		return nil
	},
}

func init() {
	f := tokenGenerateCmd.Flags()
	f.StringVar(&tokenFlags.subject, "subject", "cli", "Token subject")
	f.StringSliceVar(&tokenFlags.scopes, "scopes", auth.DefaultScopes, "Granted scopes")
	f.DurationVar(&tokenFlags.ttl, "ttl", 0, "Lifetime (default auth.token_ttl)")

	tokenCmd.AddCommand(tokenGenerateCmd, tokenHashCmd)
}
