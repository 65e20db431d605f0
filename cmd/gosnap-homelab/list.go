package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/fgeck/gosnap-homelab/internal/services/retention"
	"github.com/fgeck/gosnap-homelab/internal/services/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots in the storage root",
	Long: `List every entry of the storage root with the classification the
retention policy would give it. Nothing is removed.`,
	RunE: listSnapshots,
}

func listSnapshots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store := storage.New(log.Logger, cfg.Storage.HostRoot())
	entries, err := store.Entries()
	if err != nil {
		log.Error().Err(err).Str("root", store.Root()).Msg("failed to list storage root")
		return err
	}

	now := time.Now()
	decisions := retention.Classify(entries, now, cfg.Retention)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tCREATED")
	for _, e := range entries {
		if models.IsStagedName(e.Name) {
			fmt.Fprintf(w, "%s\t%s\t-\n", e.Name, models.StateStaged)
		}
	}
	for _, d := range decisions {
		if d.Class == models.ClassUnparseable {
			fmt.Fprintf(w, "%s\t%s\t-\n", d.Entry.Name, d.Class)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Entry.Name, d.Class, humanize.RelTime(time.Unix(d.ID, 0), now, "ago", "from now"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d entries in %s, retention %d days\n", len(entries), store.Root(), cfg.Retention.MaxAgeDays)
	return nil
}
