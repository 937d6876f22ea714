package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/clouddisk/cloudsync/internal/client"
	"github.com/clouddisk/cloudsync/internal/client/config"
	"github.com/clouddisk/cloudsync/internal/utils"
	"github.com/clouddisk/cloudsync/internal/version"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var rootCmd = &cobra.Command{
	Use:     "cloudsync",
	Short:   "CloudSync keeps a local folder in sync with your cloud disk",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}

		// all good now, show header
		cmd.SilenceUsage = true
		fmt.Fprintln(cmd.OutOrStdout(), cyan.Bold(true).Render(version.AppName+" "+version.Version))
		slog.Info("cloudsync", "version", version.Version, "revision", version.Revision, "build", version.BuildDate, "config", cfg.Path)

		daemon, err := client.NewClientDaemon(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		if err := daemon.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	// assigned here rather than in the literal to avoid an initialization cycle
	// (loadConfig refers to rootCmd)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	}
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("sync-dir", "d", "", "Local folder to keep in sync")
	rootCmd.Flags().StringP("server", "s", config.DefaultServerURL, "Cloud disk server url")
	rootCmd.Flags().String("data-dir", config.DefaultDataDir, "Agent state directory")
	rootCmd.Flags().String("remote-root", config.DefaultRemoteRoot, "Name of the cloud folder mirrored by the sync dir")
	rootCmd.Flags().Duration("poll-interval", config.DefaultPollInterval, "Interval between remote change polls")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "CloudSync config file")
	rootCmd.PersistentFlags().StringP("http-addr", "a", config.DefaultHTTPAddr, "Address of the local control plane")
	rootCmd.PersistentFlags().StringP("http-token", "t", "", "Access token for the local control plane")
}

func main() {
	// TODO rotate the log file once it grows past a size limit
	logFile := config.DefaultLogFilePath

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	logger := slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler))
	slog.SetDefault(logger)

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	// .env in the working dir may carry CLOUDSYNC_ variables
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if f := cmd.Flag("config"); f != nil && f.Changed {
		viper.SetConfigFile(f.Value.String())
	} else {
		viper.AddConfigPath(filepath.Join(home, ".cloudsync"))
		viper.AddConfigPath(filepath.Join(home, ".config", "cloudsync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	// daemon flags live on the root command, subcommands only see their defaults
	flags := rootCmd.Flags()
	persistent := rootCmd.PersistentFlags()
	viper.BindPFlag("sync_dir", flags.Lookup("sync-dir"))
	viper.BindPFlag("server_url", flags.Lookup("server"))
	viper.BindPFlag("data_dir", flags.Lookup("data-dir"))
	viper.BindPFlag("remote_root", flags.Lookup("remote-root"))
	viper.BindPFlag("poll_interval", flags.Lookup("poll-interval"))
	viper.BindPFlag("http_addr", persistent.Lookup("http-addr"))
	viper.BindPFlag("http_token", persistent.Lookup("http-token"))
	viper.SetDefault("page_size", config.DefaultPageSize)

	viper.SetEnvPrefix("CLOUDSYNC")
	viper.AutomaticEnv()

	return nil
}

func buildConfig() (*config.Config, error) {
	cfg := &config.Config{
		Path:         viper.ConfigFileUsed(),
		SyncDir:      viper.GetString("sync_dir"),
		ServerURL:    viper.GetString("server_url"),
		AccessToken:  viper.GetString("access_token"),
		DataDir:      viper.GetString("data_dir"),
		RemoteRoot:   viper.GetString("remote_root"),
		PollInterval: viper.GetDuration("poll_interval"),
		PageSize:     viper.GetInt("page_size"),
		HTTPAddr:     viper.GetString("http_addr"),
		HTTPToken:    viper.GetString("http_token"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
