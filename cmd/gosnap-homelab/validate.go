package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/fgeck/gosnap-homelab/internal/services/lock"
	"github.com/fgeck/gosnap-homelab/internal/services/runner"
	"github.com/fgeck/gosnap-homelab/internal/services/ssh"
	"github.com/fgeck/gosnap-homelab/internal/services/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var probe bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without taking a snapshot.

With --probe the sources, the storage root, the rsync binary and the SSH
shutdown target are checked as well. Nothing is written.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&probe, "probe", false, "check sources, storage root and remote hosts")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Storage root: %s\n", cfg.Storage.HostRoot())
	fmt.Printf("  Host: %s\n", cfg.Storage.Host)
	fmt.Printf("  Sources: %v\n", cfg.Sources)
	fmt.Printf("  Retention: %d days\n", cfg.Retention.MaxAgeDays)
	fmt.Printf("  Sync engine: %s\n", cfg.Sync.Engine)
	if cfg.Sync.Timeout > 0 {
		fmt.Printf("  Sync timeout: %s per source\n", cfg.Sync.Timeout)
	}
	fmt.Printf("  Parallel sync: %v\n", cfg.Sync.Parallel)
	if cfg.Lock.Enabled {
		fmt.Printf("  Lock: %s (timeout %s)\n", lock.Name(cfg.Storage.HostRoot()), cfg.Lock.Timeout)
	} else {
		fmt.Println("  Lock: disabled")
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  PostgreSQL: %v\n", cfg.Postgres != nil)
	fmt.Printf("  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics.Textfile != "")
	fmt.Printf("  Schedule: %v\n", cfg.Schedule != "")

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.PollURL != "" {
			fmt.Printf("  Poll URL: %s\n", cfg.WOL.PollURL)
		}
		fmt.Printf("  Storage Path: %s\n", cfg.WOL.StoragePath)
	}

	if cfg.Postgres != nil {
		fmt.Println()
		fmt.Println("PostgreSQL Configuration:")
		fmt.Printf("  Host: %s\n", cfg.Postgres.Host)
		fmt.Printf("  Port: %d\n", cfg.Postgres.Port)
		fmt.Printf("  Database: %s\n", cfg.Postgres.Database)
		fmt.Printf("  Format: %s\n", cfg.Postgres.Format)
		fmt.Printf("  Dump Dir: %s\n", cfg.Postgres.DumpDir)
	}

	if cfg.SSHShutdown != nil {
		fmt.Println()
		fmt.Println("SSH Shutdown Configuration:")
		fmt.Printf("  Host: %s\n", cfg.SSHShutdown.Host)
		fmt.Printf("  Port: %d\n", cfg.SSHShutdown.Port)
		fmt.Printf("  Username: %s\n", cfg.SSHShutdown.Username)
		fmt.Printf("  OS: %s\n", cfg.SSHShutdown.OS)
		fmt.Printf("  Shutdown Delay: %d minute(s)\n", cfg.SSHShutdown.ShutdownDelay)
		fmt.Printf("  On Failure: %v\n", cfg.SSHShutdown.OnFailure)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if cfg.Metrics.Textfile != "" {
		fmt.Println()
		fmt.Printf("Metrics Textfile: %s\n", cfg.Metrics.Textfile)
	}

	if !probe {
		return nil
	}
	return probeConfig(cfg)
}

// probeConfig checks everything a run depends on without mutating it.
func probeConfig(cfg *models.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var failed []error
	check := func(name string, err error) {
		if err != nil {
			fmt.Printf("  ✗ %s: %v\n", name, err)
			failed = append(failed, fmt.Errorf("%s: %w", name, err))
			return
		}
		fmt.Printf("  ✓ %s\n", name)
	}

	fmt.Println()
	fmt.Println("Probe:")

	for _, src := range cfg.Sources {
		mount, err := runner.ResolveSource(src)
		name := "source " + src
		if err == nil && mount.Resolved != src {
			name += " -> " + mount.Resolved
		}
		check(name, err)
	}

	root := cfg.Storage.HostRoot()
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		check("storage root "+root, fmt.Errorf("%w: not a directory", models.ErrStorageUnavailable))
	} else if os.IsNotExist(err) {
		fmt.Printf("  - storage root %s does not exist yet and will be created\n", root)
	} else if err != nil {
		check("storage root "+root, err)
	} else {
		name := "storage root " + root
		if free, err := storage.FreeBytes(root); err == nil {
			name += fmt.Sprintf(" (%s free)", humanize.IBytes(free))
		}
		check(name, nil)
	}

	if cfg.Sync.Engine == models.SyncEngineRsync {
		_, err := exec.LookPath(cfg.Sync.RsyncPath)
		check("rsync binary "+cfg.Sync.RsyncPath, err)
	}

	if cfg.Postgres != nil {
		_, err := exec.LookPath("pg_dump")
		check("pg_dump binary", err)
	}

	if cfg.SSHShutdown != nil {
		result, err := ssh.New(log.Logger).TestConnection(ctx, *cfg.SSHShutdown)
		if err == nil {
			err = result.Error
		}
		check("ssh "+cfg.SSHShutdown.Host, err)
	}

	if len(failed) > 0 {
		return errors.Join(failed...)
	}

	fmt.Println("\nAll checks passed.")
	return nil
}
