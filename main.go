package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ossyrian/chmparse/chm"
	"github.com/ossyrian/chmparse/internal/config"
	"github.com/ossyrian/chmparse/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logFile io.Closer
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:               "chmparse",
	Short:             "Read Microsoft Compiled HTML Help (.chm) files",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// flagKeys maps command line flags to config keys. Each command binds the
// flags it owns before the config is unmarshalled.
var flagKeys = map[string]string{
	"log-level":      "log_level",
	"log-output-dir": "log_output_dir",
	"frame-cache":    "frame_cache_size",
	"containers":     "container_cache_size",
	"all":            "include_internal",
	"match":          "match",
	"format":         "output_format",
	"output":         "output",
	"workers":        "workers",
}

func init() {
	cobra.OnInitialize(initConfig)
	cobra.OnFinalize(closeLog)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-output-dir", "", "directory to write log files (if set, logs are written to both stderr and file)")
	rootCmd.PersistentFlags().Int("frame-cache", chm.DefaultFrameCacheSize, "decoded LZX frames kept per container")

	rootCmd.AddCommand(listCmd, catCmd, homeCmd, infoCmd, extractCmd)
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "chmparse"))
		}
		viper.AddConfigPath("/etc/chmparse")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	viper.SetEnvPrefix("CHMPARSE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setup binds the flags of the running command, loads the config and
// configures logging
func setup(cmd *cobra.Command, args []string) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return fmt.Errorf("could not bind flag %s: %w", name, err)
			}
		}
	}

	cfg = config.Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(args) > 0 {
		cfg.InputFile = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	closer, err := logging.Setup(cfg.LogLevel, cfg.LogOutputDir, logging.Rotation{
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("could not set up logging: %w", err)
	}
	logFile = closer

	return nil
}

func closeLog() {
	if logFile != nil {
		logFile.Close()
	}
}

// options returns the library options derived from the loaded config
func options() chm.Options {
	return chm.Options{
		Logger:             slog.Default(),
		FrameCacheSize:     cfg.FrameCacheSize,
		ContainerCacheSize: cfg.Containers,
		IncludeInternal:    cfg.ShowAll,
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
