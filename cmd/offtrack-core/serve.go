package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/offtrack/offtrack-core/internal/api"
	"github.com/offtrack/offtrack-core/internal/catalog"
	"github.com/offtrack/offtrack-core/internal/cleaner"
	"github.com/offtrack/offtrack-core/internal/config"
	"github.com/offtrack/offtrack-core/internal/download"
	apperrors "github.com/offtrack/offtrack-core/internal/errors"
	"github.com/offtrack/offtrack-core/internal/monitoring"
	"github.com/offtrack/offtrack-core/internal/network"
	"github.com/offtrack/offtrack-core/internal/proxy"
	"github.com/offtrack/offtrack-core/internal/storage"
	"github.com/offtrack/offtrack-core/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download workers, streaming proxy and cache cleaner",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// session holds what changes when the configuration file is rewritten
type session struct {
	cfg    atomic.Pointer[config.Config]
	signer atomic.Pointer[api.Client]
}

func (s *session) streamURL(song catalog.Song) (string, error) {
	return s.signer.Load().SignURL(s.cfg.Load().StreamURL(song.ID))
}

func (s *session) coverArtURL(id string) (string, error) {
	return s.signer.Load().SignURL(s.cfg.Load().CoverArtURL(id))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	changes := make(chan *config.Config, 1)
	cfg, err := config.Watch(configPath, func(next *config.Config) {
		select {
		case <-changes:
		default:
		}
		changes <- next
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := prepare(cfg); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	var sess session
	opts := apiOptions(cfg)
	signer, err := api.NewClient(cfg.ServerContext(), opts)
	if err != nil {
		return err
	}
	sess.cfg.Store(cfg)
	sess.signer.Store(signer)

	db, err := store.Open(ctx, cfg.Cache.StateDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	state := store.NewStateStore(db)

	layout := newLayout(cfg)

	catalogClient, err := catalog.NewCachingClient(cfg.ServerContext(), api.NewFactory(opts), catalog.Options{
		TTLs:               cfg.CatalogTTLs(),
		DirectoryCacheSize: cfg.Cache.DirectoryCacheSize,
		TaskWorkers:        cfg.Network.TaskWorkers,
		Playlists:          storage.NewPlaylistStore(layout),
	}, logger)
	if err != nil {
		return err
	}
	if err := catalogClient.Start(ctx); err != nil {
		return err
	}
	defer catalogClient.Close()

	artwork, err := storage.NewArtworkStore(layout.ArtworkDir, cfg.Cache.ArtworkSize, network.GetDefaultClient())
	if err != nil {
		return err
	}

	fetcher := download.NewHTTPFetcher(nil, sess.streamURL, cfg.Network.BandwidthLimit)
	manager, err := download.NewManager(fetcher, download.Options{
		Layout:       layout,
		Workers:      cfg.Cache.Workers,
		PreloadCount: cfg.Cache.PreloadCount,
		MaxRetries:   cfg.Cache.MaxRetries,
		State:        state,
		Server:       cfg.ServerContext().Name,
		OnComplete: func(ctx context.Context, e *download.Entry) {
			song := e.Song()
			if song.CoverArt == "" {
				return
			}
			u, err := sess.coverArtURL(song.CoverArt)
			if err != nil {
				return
			}
			if err := artwork.Fetch(ctx, layout.AlbumDir(song), u); err != nil {
				logger.Debug("Failed to fetch album art", zap.String("album", song.Album), zap.Error(err))
			}
		},
	}, logger)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	streamProxy, err := proxy.New(proxy.ManagerResolver(manager), proxy.Options{
		PollInterval: time.Duration(cfg.Proxy.PollIntervalMS) * time.Millisecond,
	}, logger)
	if err != nil {
		return err
	}
	streamProxy.Start(ctx)
	defer streamProxy.Close()

	sweeper := cleaner.New(layout.Root, manager, cleaner.Options{
		QuotaBytes:   megabytes(cfg.Cache.MaxSizeMB),
		MinFreeBytes: megabytes(cfg.Cache.MinFreeMB),
	}, logger)
	go sweeper.Run(ctx, cfg.CleanupInterval())

	health := monitoring.NewHealthChecker(version, db).WithDiskCheck(func() (int64, error) {
		stats, err := storage.DiskUsage(storage.ExistingAncestor(layout.Root))
		return stats.Available, err
	}, megabytes(cfg.Cache.MinFreeMB))
	admin := newAdminServer(cfg.Admin.Addr, manager, health, artwork, layout)
	go func() {
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	go func() {
		err := catalogClient.Ping(ctx)
		switch {
		case err == nil:
		case apperrors.IsNetworkError(err):
			logger.Warn("Server not reachable, serving from cache", zap.String("url", cfg.Server.URL), zap.Error(err))
		default:
			logger.Warn("Server rejected ping", zap.String("url", cfg.Server.URL), zap.Error(err))
		}
	}()

	logger.Info("offtrack-core started",
		zap.String("version", version),
		zap.String("server", cfg.Server.URL),
		zap.String("cache", layout.Root),
		zap.Int("proxy_port", streamProxy.Port()),
		zap.String("admin", cfg.Admin.Addr))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return admin.Shutdown(shutdownCtx)
		case next := <-changes:
			sess.apply(next, opts, catalogClient, logger)
		}
	}
}

// apply switches to a rewritten configuration. A new server invalidates the
// catalog caches and the stream credentials.
func (s *session) apply(next *config.Config, opts api.Options, catalogClient *catalog.CachingClient, logger *zap.Logger) {
	if err := prepare(next); err != nil {
		logger.Warn("Ignoring invalid config change", zap.Error(err))
		return
	}
	prev := s.cfg.Load()
	s.cfg.Store(next)

	if next.ServerContext() == prev.ServerContext() {
		return
	}
	signer, err := api.NewClient(next.ServerContext(), opts)
	if err != nil {
		logger.Warn("Ignoring server change", zap.Error(err))
		s.cfg.Store(prev)
		return
	}
	s.signer.Store(signer)
	catalogClient.SetServer(next.ServerContext())
	logger.Info("Server changed", zap.String("url", next.Server.URL))
}

func newAdminServer(addr string, manager *download.Manager, health *monitoring.HealthChecker, artwork *storage.ArtworkStore, layout storage.Layout) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := manager.Stats()
		result := health.Check(stats.PlayList+stats.Background, stats.Active)
		status := http.StatusOK
		if result.Status == monitoring.HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, result)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.Stats())
	})
	// album art of a queued song, for players without network access
	mux.HandleFunc("/artwork", func(w http.ResponseWriter, r *http.Request) {
		e := manager.Lookup(r.URL.Query().Get("id"))
		if e == nil {
			http.NotFound(w, r)
			return
		}
		data, err := artwork.Load(layout.AlbumDir(e.Song()))
		if apperrors.IsNotFound(err) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(data)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
