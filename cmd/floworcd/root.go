package main

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "floworcd",
	Short: "Flow orchestration and synchronization service",
	Long: `floworcd drives multi-phase flows through their type's phase list,
keeps master and child records consistent, and watches flow health.

Configuration comes from a YAML file (--config), FLOWORC_* environment
variables, or flags, in ascending precedence.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default floworc.yaml in . or /etc/floworc)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("floworc")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/floworc")
	}

	viper.SetEnvPrefix("FLOWORC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("listen", ":8080")
	viper.SetDefault("admin_token", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("store.driver", "memory")
	viper.SetDefault("store.dsn", "")
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("monitor.autostart", true)
	viper.SetDefault("orchestrator.retry_ceiling", 3)
	viper.SetDefault("orchestrator.handler_timeout", 5*time.Minute)
	viper.SetDefault("orchestrator.sync_concurrency", 8)
	viper.SetDefault("orchestrator.monitor_interval", 30*time.Second)
	viper.SetDefault("orchestrator.hanging_multiplier", 3.0)
	viper.SetDefault("orchestrator.recovery_per_minute", 10)
	viper.SetDefault("orchestrator.shutdown_timeout", 30*time.Second)

	// Missing config files are fine; env vars and defaults cover it.
	_ = viper.ReadInConfig()
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if viper.GetString("log.format") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
