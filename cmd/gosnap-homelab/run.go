package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/fgeck/gosnap-homelab/internal/services/lock"
	"github.com/fgeck/gosnap-homelab/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Take a snapshot",
	Long: `Take one snapshot:
1. Wake-on-LAN (if configured)
2. PostgreSQL dump (if configured)
3. Check the storage root for unfinished snapshots
4. Clone the previous snapshot with hardlinks
5. Synchronize every source into the new snapshot
6. Commit the snapshot
7. Remove snapshots older than retention.max_age_days
8. SSH shutdown (if configured)
9. Send Telegram notification and write metrics (if configured)`,
	RunE: runSnapshot,
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := runLocked(ctx, runner.New(log.Logger), *cfg)
	if err != nil {
		log.Error().Err(err).Msg("snapshot failed")
		return err
	}

	printSummary(summary)
	return nil
}

// runLocked runs svc while holding the lock for the storage root, unless
// locking is disabled.
func runLocked(ctx context.Context, svc runner.Service, cfg models.Config) (*models.RunSummary, error) {
	if cfg.Lock.Enabled {
		releaser, err := lock.New(log.Logger).Acquire(cfg.Storage.HostRoot(), cfg.Lock.Timeout, ctx.Done())
		if err != nil {
			return nil, err
		}
		defer releaser.Release()
	}
	return svc.Run(ctx, cfg)
}

func printSummary(s *models.RunSummary) {
	if quiet || jsonOutput {
		return
	}

	fmt.Println()
	fmt.Printf("Snapshot:    %s\n", models.FinishedName(s.SnapshotID))
	if s.Previous != 0 {
		fmt.Printf("Cloned from: %s\n", models.FinishedName(s.Previous))
	} else {
		fmt.Println("Cloned from: (first snapshot)")
	}
	fmt.Printf("Duration:    %s\n", s.Duration.Round(time.Millisecond))
	fmt.Printf("Outdated:    %d removed\n", s.OutdatedCount())
	fmt.Printf("Unparseable: %d\n", s.UnparseableCount())
	if len(s.Unparseable) > 0 {
		fmt.Printf("             %s\n", strings.Join(s.Unparseable, ", "))
	}
	for _, f := range s.Failures {
		fmt.Printf("Not removed: %s (%v)\n", f.Name, f.Err)
	}
}
