/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stustapay/apiserver/config"
	"github.com/stustapay/apiserver/internal/db"
	"github.com/stustapay/apiserver/internal/server"
	"github.com/stustapay/apiserver/types"
)

var (
	adminName        string
	adminPassword    string
	adminDescription string
)

// userCmd groups user maintenance commands.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin user without authentication",
	Long: `Creates a user holding the admin privilege. Intended for the first
login on a fresh database. Usage:

	stustapay user create-admin --name admin --password secret
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(adminName) == "" || adminPassword == "" {
			return errors.New("--name and --password are required")
		}

		cfg := config.LoadConfig()
		dbConn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer dbConn.Close()

		svc, err := server.NewServices(dbConn, cfg.JWTSecret, nil)
		if err != nil {
			return err
		}

		user := types.UserWithoutID{
			Name:       strings.TrimSpace(adminName),
			Privileges: types.Privileges{types.PrivilegeAdmin},
		}
		if adminDescription != "" {
			user.Description = &adminDescription
		}

		created, err := svc.Users.CreateUserNoAuth(cmd.Context(), user, adminPassword)
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created admin %q with id %d\n", created.Name, created.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(createAdminCmd)

	createAdminCmd.Flags().StringVar(&adminName, "name", "", "login name of the admin")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "password of the admin")
	createAdminCmd.Flags().StringVar(&adminDescription, "description", "", "optional description")
}
