package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/offtrack/offtrack-core/internal/catalog"
	"github.com/offtrack/offtrack-core/internal/cleaner"
	"github.com/offtrack/offtrack-core/internal/storage"
	"github.com/offtrack/offtrack-core/internal/store"
)

var (
	cleanSpaceOnly bool
	cleanArtwork   bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Run one cache sweep and report what was freed",
	Long: `Run one cache sweep. The full sweep drops stale partial downloads, then the
oldest cached tracks until the size quota and free-space floor are met, then
empty album directories. With --space only the quota and floor are enforced.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanSpaceOnly, "space", false, "only free space for the quota and free-space floor")
	cleanCmd.Flags().BoolVar(&cleanArtwork, "artwork", false, "also drop the scaled album art")
	rootCmd.AddCommand(cleanCmd)
}

// storedExclusions protects the files of the stored queue's playing song and
// of its pinned songs while the daemon is not running
type storedExclusions struct {
	inUse  []string
	pinned []string
}

func (s storedExclusions) InUseFiles() []string  { return s.inUse }
func (s storedExclusions) PinnedFiles() []string { return s.pinned }

func loadExclusions(state *store.StateStore, layout storage.Layout) (storedExclusions, error) {
	var ex storedExclusions
	queue, err := state.LoadQueue()
	if err != nil {
		return ex, err
	}
	if queue.Current >= 0 && queue.Current < len(queue.Songs) {
		f := layout.SongFiles(queue.Songs[queue.Current])
		ex.inUse = append(ex.inUse, f.Partial, f.Complete, f.Save)
	}
	for _, list := range [][]catalog.Song{queue.Songs, queue.Background} {
		for _, song := range list {
			if !queue.IsPinned(song.ID) {
				continue
			}
			f := layout.SongFiles(song)
			ex.pinned = append(ex.pinned, f.Partial, f.Complete, f.Save)
		}
	}
	return ex, nil
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	db, err := store.Open(ctx, cfg.Cache.StateDBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	layout := newLayout(cfg)
	exclusions, err := loadExclusions(store.NewStateStore(db), layout)
	if err != nil {
		return err
	}

	sweeper := cleaner.New(layout.Root, exclusions, cleaner.Options{
		QuotaBytes:   megabytes(cfg.Cache.MaxSizeMB),
		MinFreeBytes: megabytes(cfg.Cache.MinFreeMB),
	}, logger)

	var res cleaner.Result
	if cleanSpaceOnly {
		res, err = sweeper.CleanSpace(ctx)
	} else {
		res, err = sweeper.Clean(ctx)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Deleted %d files (%s), removed %d directories\n",
		res.Files, humanize.IBytes(uint64(res.Bytes)), res.Dirs)

	if cleanArtwork {
		freed, err := clearArtwork(layout.ArtworkDir, cfg.Cache.ArtworkSize)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Dropped %s of album art\n", humanize.IBytes(uint64(freed)))
	}
	return nil
}

// clearArtwork removes the scaled album art and returns the bytes freed
func clearArtwork(dir string, size int) (int64, error) {
	artwork, err := storage.NewArtworkStore(dir, size, nil)
	if err != nil {
		return 0, err
	}
	freed, err := artwork.Size()
	if err != nil {
		return 0, err
	}
	if err := artwork.Clear(); err != nil {
		return 0, err
	}
	return freed, nil
}
