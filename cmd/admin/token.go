package main

import (
	"fmt"

	"handoffdesk/backend/internal/api/handler"
	"handoffdesk/backend/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint access tokens",
	}
	cmd.AddCommand(newTokenAdminCmd())
	return cmd
}

func newTokenAdminCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "admin <adminId>",
		Short: "Mint an admin JWT signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokens := handler.NewTokenIssuer(cfg.JWTSecret, cfg.GuestTokenTTL, cfg.AdminTokenTTL)
			token, err := tokens.IssueAdmin(args[0], name)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "admin display name embedded in the token")
	return cmd
}
