package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tgwabridge/internal/config"
	"tgwabridge/internal/correlation"

	"github.com/spf13/cobra"
)

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	printPass(check, detail)
	r.passed++
}

func (r *doctorReport) warn(check, detail string) {
	printWarn(check, detail)
	r.warned++
}

func (r *doctorReport) fail(check, detail string) {
	printFail(check, detail)
	r.failed++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your tgwabridge installation",
		Long: `Verifies that the configuration, credentials, correlation store and
listening port are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(resolveConfigPath())
		},
	}
}

// runDoctor prints every check and returns an error when any of them failed.
func runDoctor(cfgPath string) error {
	fmt.Printf("tgwabridge doctor v%s\n", version)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	var r doctorReport

	if _, err := os.Stat(cfgPath); err != nil {
		r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
		fmt.Printf("\nRun 'tgwabridge init' to create a default configuration.\n")
		return fmt.Errorf("config file not found at %s", cfgPath)
	}
	r.pass("Config file", cfgPath)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		r.fail("Config validation", err.Error())
		fmt.Printf("\n%d passed, %d failed\n", r.passed, r.failed)
		return fmt.Errorf("config validation failed: %w", err)
	}
	r.pass("Config validation", "valid")

	if err := config.RequireCredentials(cfg); err != nil {
		r.fail("Credentials", strings.ReplaceAll(err.Error(), "\n", " "))
	} else {
		r.pass("Credentials", "telegram and whatsapp configured")
	}
	if cfg.WhatsApp.AppSecret == "" {
		r.warn("Webhook signature", "whatsapp.appSecret empty; deliveries are not verified")
	} else {
		r.pass("Webhook signature", "X-Hub-Signature-256 required")
	}

	checkStore(&r, cfg)

	if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
		r.warn("Port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
	} else {
		r.pass("Port", fmt.Sprintf(":%d available", cfg.Server.Port))
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.General.LogFile)
		}
	}

	var envSet []string
	for _, name := range config.LegacyEnvNames() {
		if os.Getenv(name) != "" {
			envSet = append(envSet, name)
		}
	}
	if len(envSet) > 0 {
		r.pass("Environment", "overrides from "+strings.Join(envSet, ", "))
	}

	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running tgwabridge.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\ntgwabridge should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! tgwabridge is ready to run.\n")
	}
	return nil
}

func checkStore(r *doctorReport, cfg *config.Config) {
	if cfg.Store.Driver == correlation.DriverSQLite {
		n, err := checkDatabase(cfg.Store.Path)
		if err != nil {
			r.fail("Store", err.Error())
		} else {
			r.pass("Store", fmt.Sprintf("sqlite %s (%d records)", cfg.Store.Path, n))
		}
		return
	}
	if cfg.Store.Driver == correlation.DriverMemory {
		r.warn("Store", "memory driver; threading is lost on restart")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := correlation.Open(ctx, storeOptions(cfg), logger)
	if err != nil {
		r.fail("Store", err.Error())
		return
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		r.fail("Store", err.Error())
		return
	}
	r.pass("Store", cfg.Store.Driver+" reachable")
}

// checkDatabase opens the store the way serve does, migrations included,
// and reads the record count back.
func checkDatabase(dbPath string) (int64, error) {
	store, err := correlation.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		return 0, err
	}
	return store.Count(ctx)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
