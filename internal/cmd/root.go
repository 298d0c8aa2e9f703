package cmd

import (
	"fmt"
	"strings"

	"github.com/mizuki-ai/kaiwa/internal/config"
	"github.com/mizuki-ai/kaiwa/internal/logging"
	"github.com/mizuki-ai/kaiwa/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "kaiwa",
	Short: "Session store for multi-turn model conversations",
	Long: `Kaiwa persists multi-turn model conversations as lock-guarded JSON
session files, with prompt assembly, tool-response expiration, and a
provider cache registry layered on top.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/kaiwa/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "override the data directory")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("paths.data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/kaiwa")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("KAIWA")
	// Replace dots with underscores for nested keys in env vars
	// e.g., KAIWA_SESSION_LOCK_TIMEOUT_SECONDS for session.lock_timeout_seconds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// newLogger builds the process logger from the active configuration.
// Callers own Close.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.NewLogger(cfg.LogPath(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
}

// openStore builds a session store from the active configuration.
func openStore() (*session.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	st, err := session.NewStore(cfg.SessionsDir(), session.WithLockTimeout(cfg.LockTimeout()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return st, cfg, nil
}
