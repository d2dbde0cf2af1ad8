/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/sanctuary/internal/auth"
)

var (
	tokenUser   string
	tokenRoles  []string
	tokenTarget string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token for an operator console or output window",
	Long: `Issue a signed access token.

Examples:
  # Operator console for twelve hours
  sanctuary token --user alice --role operator --ttl 12h

  # Projector window that may only attach as "projector"
  sanctuary token --user booth --role output --target projector
`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "Subject of the token (required)")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{auth.RoleOperator}, "Roles to grant (operator, output)")
	tokenCmd.Flags().StringVar(&tokenTarget, "target", "", "Bind an output token to one display target")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	for _, role := range tokenRoles {
		if role != auth.RoleOperator && role != auth.RoleOutput {
			return fmt.Errorf("unknown role %q", role)
		}
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{
		UserID:   tokenUser,
		Roles:    tokenRoles,
		TargetID: tokenTarget,
	}, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
