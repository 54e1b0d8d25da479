package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tgwabridge/internal/config"
	"tgwabridge/internal/correlation"

	"github.com/spf13/cobra"
)

var (
	version    = "1.0.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag or TGWABRIDGE_CONFIG
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "tgwabridge",
		Short:         "Relay WhatsApp users to a Telegram operator group and back",
		Long:          "tgwabridge forwards WhatsApp messages into one Telegram group and sends operator replies back to the right WhatsApp user.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (.json, .yaml or .toml; default: ~/.tgwabridge/config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(initCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(configCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config, TGWABRIDGE_CONFIG
// or the default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	if p := os.Getenv("TGWABRIDGE_CONFIG"); p != "" {
		return config.ExpandPath(p)
	}
	return config.DefaultConfigPath()
}

// setupLogger replaces the bootstrap logger with one configured from cfg.
// The returned closer releases the log file, if any.
func setupLogger(cfg *config.Config) (io.Closer, error) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = io.MultiWriter(os.Stderr, f), f
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.General.LogFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(out, opts))
	}
	slog.SetDefault(logger)
	return closer, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "format", config.Format(cfgPath))
			fmt.Println("Next: run 'tgwabridge wizard' or set telegram.* and whatsapp.* with 'tgwabridge config set'.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tgwabridge %s\n", version)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and correlation store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)
			logger.Info("webhooks",
				"telegram", cfg.Server.TelegramRoute,
				"whatsapp", cfg.Server.WhatsAppRoute,
				"port", cfg.Server.Port,
				"queue", cfg.Queue.Mode,
			)
			if err := config.RequireCredentials(cfg); err != nil {
				logger.Warn("credentials incomplete", "err", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			store, err := correlation.Open(ctx, storeOptions(cfg), logger)
			if err != nil {
				logger.Info("store", "driver", cfg.Store.Driver, "healthy", false, "err", err)
				return nil
			}
			defer store.Close()

			if err := store.Ping(ctx); err != nil {
				logger.Info("store", "driver", cfg.Store.Driver, "healthy", false, "err", err)
				return nil
			}
			attrs := []any{"driver", cfg.Store.Driver, "healthy", true}
			if c, ok := store.(correlation.Counter); ok {
				if n, err := c.Count(ctx); err == nil {
					attrs = append(attrs, "users", n)
				}
			}
			logger.Info("store", attrs...)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. store.driver)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. queue.mode memory)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			shown := args[1]
			if isSecretPath(args[0]) {
				shown = "***"
			}
			logger.Info("config updated", "path", args[0], "value", shown, "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func isSecretPath(path string) bool {
	lower := strings.ToLower(path)
	for _, s := range []string{"token", "secret", "dsn", "redisurl"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func storeOptions(cfg *config.Config) correlation.Options {
	redisURL := cfg.Store.RedisURL
	if redisURL == "" {
		redisURL = cfg.Queue.RedisURL
	}
	return correlation.Options{
		Driver:   cfg.Store.Driver,
		Path:     cfg.Store.Path,
		DSN:      cfg.Store.DSN,
		RedisURL: redisURL,
		RedisKey: cfg.Store.RedisKey,
	}
}
