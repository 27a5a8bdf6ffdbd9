// Package cli provides the command-line interface for the alert monitor.
package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"stockalert/internal/api"
	"stockalert/internal/config"
	"stockalert/internal/logging"
	"stockalert/internal/security"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI. Configuration and the
// logger are loaded once flags are parsed.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "stockalert",
		Short: "StockAlert - price and exchange-rate threshold alerts",
		Long: `StockAlert polls a market data API for stock prices and exchange rates
and notifies you once when a watched value falls to or below its threshold.

Alerts are armed from config.toml or through the local control API.
Use 'stockalert run' to start monitoring.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/stockalert)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newCheckCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newTokenCmd(app))

	return rootCmd
}

func (app *App) init(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	app.ConfigDir = dir

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	app.Config = cfg

	logCfg := logging.FromConfig(cfg.Logging)
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	}
	logCfg.Output = cmd.ErrOrStderr()
	app.Logger = logging.NewLogger(logCfg)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// version needs no config
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
				return
			}
			output.Printf("StockAlert v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redactedConfig(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
				return
			}
			output.Println(app.ConfigDir)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			// Load already validated; this re-checks thresholds too.
			for i, a := range app.Config.Alerts {
				if _, err := parseAlertConfig(a); err != nil {
					output.Error("alerts[%d]: %v", i, err)
					return err
				}
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func newTokenCmd(app *App) *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the control API",
		Long: `Sign a token with server.jwt_secret. Pass it as
"Authorization: Bearer <token>" or as ?token= on /api/v1/stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Config.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not set")
			}
			token, err := api.IssueToken(app.Config.Server.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"token":      token,
					"expires_at": time.Now().Add(ttl).Format(time.RFC3339),
				})
			}
			output.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// redactedConfig returns a copy of cfg that is safe to print.
func redactedConfig(cfg *config.Config) *config.Config {
	c := *cfg
	n := &c.Notifications
	n.Webhook.URL = security.MaskSecrets(n.Webhook.URL)
	n.Telegram.BotToken = security.MaskCredential(n.Telegram.BotToken)
	n.Email.Password = security.MaskCredential(n.Email.Password)
	c.Server.JWTSecret = security.MaskCredential(c.Server.JWTSecret)
	return &c
}

func showConfig(output *Output, cfg *config.Config) {
	output.Info("Monitor")
	output.Printf("  interval:       %s\n", cfg.Monitor.Interval)
	output.Printf("  fetch timeout:  %s\n", cfg.Monitor.FetchTimeout)
	output.Printf("  kinds:          %v\n", cfg.Monitor.Kinds)
	output.Info("Feed")
	output.Printf("  base url:       %s\n", cfg.Feed.BaseURL)
	output.Info("Notifications")
	output.Printf("  enabled:        %t\n", cfg.Notifications.Enabled)
	output.Printf("  channels:       terminal=%t webhook=%t telegram=%t email=%t\n",
		cfg.Notifications.Terminal.Enabled, cfg.Notifications.Webhook.Enabled,
		cfg.Notifications.Telegram.Enabled, cfg.Notifications.Email.Enabled)
	if cfg.Notifications.Webhook.URL != "" {
		output.Printf("  webhook url:    %s\n", security.MaskSecrets(cfg.Notifications.Webhook.URL))
	}
	if cfg.Notifications.Telegram.BotToken != "" {
		output.Printf("  telegram token: %s\n", security.MaskCredential(cfg.Notifications.Telegram.BotToken))
	}
	if cfg.Notifications.Email.Password != "" {
		output.Printf("  smtp password:  %s\n", security.MaskCredential(cfg.Notifications.Email.Password))
	}
	output.Info("Server")
	output.Printf("  enabled:        %t\n", cfg.Server.Enabled)
	output.Printf("  addr:           %s\n", cfg.Server.Addr)
	output.Printf("  auth:           %t\n", cfg.Server.JWTSecret != "")
	output.Info("Store")
	output.Printf("  enabled:        %t\n", cfg.Store.Enabled)
	output.Printf("  path:           %s\n", cfg.Store.Path)
	output.Info("Alerts")
	if len(cfg.Alerts) == 0 {
		output.Dim("  none configured")
	}
	for _, a := range cfg.Alerts {
		output.Printf("  %-8s %-10s <= %s\n", a.Kind, a.ID, a.Threshold)
	}
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		return fmt.Errorf("stockalert: %w", err)
	}
	return nil
}
