package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"notehub/internal/app"
	"notehub/internal/repository/postgres"
)

var (
	authCode     string
	refreshToken string
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Re-authorize the drive blob store",
	Long: `Without flags, prints the consent URL to open in a browser.
Pass the returned code with --code to exchange it, or install an existing
refresh token with --refresh-token. Running servers notice the new credential
within their reload interval and leave the invalid-credential state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, repoConfig, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		manager := app.NewCredentialManager(cfg, postgres.NewCredentialRepository(repoConfig), logger)

		switch {
		case authCode != "":
			if err := manager.Exchange(ctx, authCode); err != nil {
				return fmt.Errorf("exchange authorization code: %w", err)
			}
		case refreshToken != "":
			if err := manager.Reauthorize(ctx, refreshToken); err != nil {
				return fmt.Errorf("store refresh token: %w", err)
			}
		default:
			fmt.Fprintln(cmd.OutOrStdout(), "Open this URL, approve access, then rerun with --code:")
			fmt.Fprintln(cmd.OutOrStdout(), manager.AuthCodeURL(uuid.NewString()))
			return nil
		}

		// Prove the new credential works before reporting success
		if _, err := manager.AccessToken(ctx); err != nil {
			return fmt.Errorf("verify credential: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Drive credential stored")
		return nil
	},
}

func init() {
	authorizeCmd.Flags().StringVar(&authCode, "code", "", "Authorization code from the consent screen")
	authorizeCmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token to install directly")
	authorizeCmd.MarkFlagsMutuallyExclusive("code", "refresh-token")
}
