package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/config"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/logger"
	"github.com/antigravity-gateway/gateway/internal/infrastructure/tokenstore"
)

const cliName = "gateway-admin"

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "Admin CLI for the antigravity gateway's project token pool",
	}

	rootCmd.AddCommand(listCmd(), addCmd(), disableCmd(), enableCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore() (*tokenstore.Store, *entity.ProjectPool, *entity.OAuthConfig, error) {
	log, err := logger.NewLogger(logger.Config{Level: "error", Format: "console", OutputPath: "stdout"})
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	store := tokenstore.New(cfg.TokenStore.Path, log)
	pool, oauth, _, err := store.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading token store: %w", err)
	}

	return store, pool, oauth, nil
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all projects in the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, _, err := openStore()
			if err != nil {
				return err
			}

			for _, p := range pool.Projects {
				status := "enabled"
				if !p.Enabled {
					status = "disabled: " + p.DisabledReason
				}
				fmt.Printf("%s\t%s\n", p.ProjectID, status)
			}
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	var refreshToken string
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Add a project to the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, pool, oauth, err := openStore()
			if err != nil {
				return err
			}

			pool.Projects = append(pool.Projects, &entity.Project{
				ProjectID:    args[0],
				RefreshToken: refreshToken,
				Enabled:      true,
			})

			if err := store.Save(pool, oauth); err != nil {
				return fmt.Errorf("saving: %w", err)
			}
			fmt.Printf("added project %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token for this project")
	return cmd
}

func disableCmd() *cobra.Command {
	return toggleCmd("disable", "Disable a project", false)
}

func enableCmd() *cobra.Command {
	return toggleCmd("enable", "Re-enable a project", true)
}

func toggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, pool, oauth, err := openStore()
			if err != nil {
				return err
			}

			found := false
			for _, p := range pool.Projects {
				if p.ProjectID == args[0] {
					if enabled {
						p.Enabled = true
						p.DisabledReason = ""
					} else {
						p.Disable("disabled via admin CLI")
					}
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("project %s not found", args[0])
			}

			if err := store.Save(pool, oauth); err != nil {
				return fmt.Errorf("saving: %w", err)
			}
			fmt.Printf("%sd project %s\n", use, args[0])
			return nil
		},
	}
}
