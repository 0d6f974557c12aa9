package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"agialcal/internal/config"
	appLog "agialcal/internal/log"
)

const version = "0.3.0"

// rootFlags holds the persistent CLI flags shared by every command.
type rootFlags struct {
	configPath string
	listen     string
	envFile    string
}

func main() {
	var flags rootFlags

	rootCmd := &cobra.Command{
		Use:           "agialcal",
		Short:         "Appointment calendar for the Agial clinic Odoo backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "/etc/agialcal/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flags.listen, "listen", "", "HTTP listen address (overrides config if set)")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Optional dotenv file loaded before the config")

	rootCmd.AddCommand(serveCmd(&flags))
	rootCmd.AddCommand(snapshotCmd(&flags))
	rootCmd.AddCommand(exportCmd(&flags))

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		appLog.Error("agialcal failed", err)
		cancel()
		os.Exit(1)
	}
}

// loadConfig applies, in order: dotenv file, YAML config, environment
// overrides, then the --listen flag.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !os.IsNotExist(err) {
			appLog.Warn("could not load env file", "path", flags.envFile, "err", err)
		}
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return nil, err
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	level := appLog.ParseLevel(conf.LogLevel)
	appLog.Init(appLog.Options{Level: level, Console: level == appLog.LevelDebug})

	appLog.Info("effective config",
		"version", version,
		"listen", conf.Listen,
		"odoo", conf.Odoo.BaseURL,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"demo_fallback", conf.DemoFallback,
		"fail_open", conf.Availability.FailOpen,
		"redis", conf.Availability.RedisAddr != "",
		"capture", conf.Capture.Enabled,
	)
	return conf, nil
}
