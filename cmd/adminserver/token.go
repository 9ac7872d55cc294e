package main

import (
	"admin_service/pkg/crypto"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	tokenAccount string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for an account in the directory seed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		graph, _, err := buildDirectory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		account, err := graph.FindAccount(tokenAccount)
		if err != nil {
			return err
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.SessionTTL
		}
		signer := crypto.NewSigner(cfg.SessionSecret, zap.NewNop())
		token, err := signer.IssueToken(account.ID, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenAccount, "account", "", "account name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime, defaults to session_ttl")
	_ = tokenCmd.MarkFlagRequired("account")
}
