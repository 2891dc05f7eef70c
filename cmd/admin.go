/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/shopfront/apiserver/config"
	"github.com/shopfront/apiserver/internal/server"
	"github.com/shopfront/apiserver/internal/services"
	"github.com/spf13/cobra"
)

var adminInput services.RegisterInput

// adminCmd groups account bootstrap commands.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage administrator accounts",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an administrator account",
	Long: `Creates an administrator directly in the database. Registration over the
API only ever creates customers, so this is how the first administrator is made:

	shopfront admin create --name "Store Owner" --email owner@example.com --password secret
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		if cfg.StoreBackend == config.StoreBackendMemory {
			return errors.New("admin create needs a persistent store; set STORE_BACKEND=postgres")
		}

		repos, closeRepos, err := server.OpenRepositories(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeRepos()

		admin, err := services.NewUserService(repos.Users).CreateAdmin(cmd.Context(), adminInput)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created administrator %s (%s)\n", admin.Email, admin.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminCreateCmd)

	adminCreateCmd.Flags().StringVar(&adminInput.Name, "name", "", "display name")
	adminCreateCmd.Flags().StringVar(&adminInput.Email, "email", "", "login email")
	adminCreateCmd.Flags().StringVar(&adminInput.Password, "password", "", "login password")
	_ = adminCreateCmd.MarkFlagRequired("email")
	_ = adminCreateCmd.MarkFlagRequired("password")
}
