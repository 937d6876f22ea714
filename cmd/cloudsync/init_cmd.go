package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/clouddisk/cloudsync/internal/client/config"
	"github.com/clouddisk/cloudsync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var (
		syncDir   string
		serverURL string
		token     string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file for the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			out := cmd.OutOrStdout()

			path := config.DefaultConfigPath
			if f := cmd.Flag("config"); f != nil && f.Changed {
				path = f.Value.String()
			}

			if existing, err := config.Load(path); err == nil && !force {
				fmt.Fprintln(out, "CloudSync already initialized")
				fmt.Fprintf(out, "Config Path: %s\n", green.Render(path))
				fmt.Fprintf(out, "Sync Dir:    %s\n", cyan.Render(existing.SyncDir))
				fmt.Fprintf(out, "Server:      %s\n", cyan.Render(existing.ServerURL))
				return nil
			} else if err != nil && !errors.Is(err, os.ErrNotExist) && !force {
				return err
			}

			if syncDir == "" {
				return errors.New("--sync-dir is required")
			}

			httpToken, err := utils.RandomToken(32)
			if err != nil {
				return err
			}

			cfg := &config.Config{
				SyncDir:     syncDir,
				ServerURL:   serverURL,
				AccessToken: token,
				Path:        path,
				HTTPToken:   httpToken,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}

			fmt.Fprintf(out, "%s config written to %s\n", green.Render("OK"), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&syncDir, "sync-dir", "d", "", "Local folder to keep in sync")
	cmd.Flags().StringVarP(&serverURL, "server", "s", config.DefaultServerURL, "Cloud disk server url")
	cmd.Flags().StringVar(&token, "token", "", "Access token for the cloud disk api")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}
