package cmd

import (
	"fmt"
	"os"

	"github.com/aweris/blefs/internal/config"
	"github.com/aweris/blefs/internal/logger"
	"github.com/aweris/blefs/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "blefs",
	Short: "BLE file store peripheral",
	Long: "Serve a flat file store to a BLE central over one GATT service, and " +
		"mirror that store to an OCI registry.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/blefs/config.yaml)")
	flags.String("store-dir", "", "store directory (default: ~/.local/share/blefs)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: console, json")

	viper.BindPFlag("store.dir", flags.Lookup("store-dir"))
	viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	viper.BindPFlag("logging.format", flags.Lookup("log-format"))
}

func initConfig() {
	config.Setup(viper.GetViper(), rootCmd.PersistentFlags().Lookup("config").Value.String())
	if err := config.ReadFile(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// loadConfig returns the validated settings and a logger built from them.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func openStore(cfg *config.Config) (*store.LocalStore, error) {
	st, err := store.NewLocalStore(cfg.Store.Dir, cfg.Store.CacheEntries)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Dir, err)
	}
	return st, nil
}
