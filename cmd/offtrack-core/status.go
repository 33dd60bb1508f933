package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/offtrack/offtrack-core/internal/cleaner"
	"github.com/offtrack/offtrack-core/internal/storage"
	"github.com/offtrack/offtrack-core/internal/store"
)

var historyLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache usage, free space and the stored queue",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&historyLimit, "history", 5, "number of recent downloads to list")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	layout := newLayout(cfg)
	used, err := cleaner.New(layout.Root, nil, cleaner.Options{}, nil).Usage(ctx)
	if err != nil {
		return fmt.Errorf("failed to measure cache: %w", err)
	}
	disk, err := storage.DiskUsage(storage.ExistingAncestor(layout.Root))
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.Cache.StateDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	state := store.NewStateStore(db)

	queued, err := state.QueueSize()
	if err != nil {
		return err
	}
	history, err := state.GetHistory(historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server:     %s\n", cfg.Server.URL)
	fmt.Fprintf(out, "Cache:      %s\n", layout.Root)
	fmt.Fprintf(out, "Used:       %s of %s quota\n",
		humanize.IBytes(uint64(used)), humanize.IBytes(uint64(megabytes(cfg.Cache.MaxSizeMB))))
	fmt.Fprintf(out, "Free space: %s of %s\n",
		humanize.IBytes(uint64(disk.Available)), humanize.IBytes(uint64(disk.Total)))
	fmt.Fprintf(out, "Queued:     %d songs\n", queued)

	artwork, err := storage.NewArtworkStore(layout.ArtworkDir, cfg.Cache.ArtworkSize, nil)
	if err != nil {
		return err
	}
	if err := printOffline(out, artwork, storage.NewPlaylistStore(layout), cfg.ServerContext().Name); err != nil {
		return err
	}
	printHistory(out, history)
	return nil
}

// printOffline reports the artwork and playlists kept for offline use
func printOffline(out io.Writer, artwork *storage.ArtworkStore, playlists *storage.PlaylistStore, server string) error {
	size, err := artwork.Size()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Artwork:    %s\n", humanize.IBytes(uint64(size)))

	names, err := playlists.ListPlaylists(server)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	fmt.Fprintln(out, "Offline playlists:")
	for _, name := range names {
		tracks, err := playlists.LoadPlaylist(server, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s (%d tracks)\n", name, len(tracks))
	}
	return nil
}

func printHistory(out io.Writer, history []store.HistoryEntry) {
	if len(history) == 0 {
		return
	}
	fmt.Fprintln(out, "Recent downloads:")
	for _, h := range history {
		fmt.Fprintf(out, "  %s - %s (%s, %s)\n",
			h.Artist, h.Title, humanize.IBytes(uint64(h.FileSize)), humanize.Time(h.DownloadedAt))
	}
}
