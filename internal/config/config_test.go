package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig(dir string) Config {
	return Config{
		Server: ServerConfig{
			Name:                "home",
			URL:                 "http://music.local:4040/",
			Username:            "alice",
			StreamURLTemplate:   "{url}/rest/stream.view?id={id}",
			CoverArtURLTemplate: "{url}/rest/getCoverArt.view?id={id}",
		},
		Cache: CacheConfig{
			Dir:                    dir,
			StateDBPath:            filepath.Join(dir, "state.db"),
			MaxSizeMB:              1024,
			MinFreeMB:              256,
			PreloadCount:           3,
			Workers:                2,
			MaxRetries:             3,
			CleanupIntervalMinutes: 10,
			DirectoryCacheSize:     20,
			ArtworkSize:            512,
			TTL: TTLConfig{
				MusicFolders:   36000,
				Indexes:        3600,
				MusicDirectory: 300,
				LicenseValid:   1800,
				LicenseInvalid: 120,
				Playlists:      3600,
				Genres:         36000,
				User:           3600,
			},
		},
		Network: NetworkConfig{
			Timeout:     30,
			TaskWorkers: 2,
		},
		Proxy: ProxyConfig{
			PollIntervalMS: 250,
		},
		Admin: AdminConfig{
			Addr: "127.0.0.1:0",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"empty server url", func(c *Config) { c.Server.URL = "" }, true},
		{"template without id", func(c *Config) { c.Server.StreamURLTemplate = "{url}/rest/stream.view" }, true},
		{"cover template without id", func(c *Config) { c.Server.CoverArtURLTemplate = "{url}/rest/getCoverArt.view" }, true},
		{"empty cache dir", func(c *Config) { c.Cache.Dir = "" }, true},
		{"negative quota", func(c *Config) { c.Cache.MaxSizeMB = -1 }, true},
		{"zero workers", func(c *Config) { c.Cache.Workers = 0 }, true},
		{"too many workers", func(c *Config) { c.Cache.Workers = 17 }, true},
		{"zero directory cache", func(c *Config) { c.Cache.DirectoryCacheSize = 0 }, true},
		{"poll interval of a second", func(c *Config) { c.Proxy.PollIntervalMS = 1000 }, true},
		{"invalid log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"invalid log output", func(c *Config) { c.Logging.Output = "syslog" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t.TempDir())
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "settings.json")

	cfg := validConfig(tmpDir)
	cfg.Cache.PreloadCount = 5

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Server.Username != "alice" {
		t.Errorf("Expected username alice, got %s", loaded.Server.Username)
	}
	if loaded.Cache.PreloadCount != 5 {
		t.Errorf("Expected preload count 5, got %d", loaded.Cache.PreloadCount)
	}
	if loaded.Cache.TTL.LicenseInvalid != 120 {
		t.Errorf("Expected invalid-license TTL 120, got %d", loaded.Cache.TTL.LicenseInvalid)
	}
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "settings.json")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("Expected default config to be written: %v", err)
	}
	if cfg.Cache.PreloadCount != 3 {
		t.Errorf("Expected default preload count 3, got %d", cfg.Cache.PreloadCount)
	}
	if cfg.Proxy.PollIntervalMS != 250 {
		t.Errorf("Expected default poll interval 250, got %d", cfg.Proxy.PollIntervalMS)
	}
}

func TestServerContext(t *testing.T) {
	cfg := validConfig(t.TempDir())
	sc := cfg.ServerContext()

	if sc.URL != "http://music.local:4040" {
		t.Errorf("Expected trailing slash to be trimmed, got %s", sc.URL)
	}
	if sc.Name != "home" {
		t.Errorf("Expected name home, got %s", sc.Name)
	}

	cfg.Server.Name = ""
	if got := cfg.ServerContext().Name; got != "http://music.local:4040/" {
		t.Errorf("Expected name to fall back to url, got %s", got)
	}
}

func TestStreamURL(t *testing.T) {
	cfg := validConfig(t.TempDir())

	want := "http://music.local:4040/rest/stream.view?id=tr-9"
	if got := cfg.StreamURL("tr-9"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestCoverArtURL(t *testing.T) {
	cfg := validConfig(t.TempDir())

	want := "http://music.local:4040/rest/getCoverArt.view?id=al-1+2"
	if got := cfg.CoverArtURL("al-1 2"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestCatalogTTLs(t *testing.T) {
	cfg := validConfig(t.TempDir())
	ttls := cfg.CatalogTTLs()

	if ttls.LicenseInvalid != 2*time.Minute {
		t.Errorf("Expected 2m, got %v", ttls.LicenseInvalid)
	}
	if ttls.MusicDirectory != 5*time.Minute {
		t.Errorf("Expected 5m, got %v", ttls.MusicDirectory)
	}
	if cfg.CleanupInterval() != 10*time.Minute {
		t.Errorf("Expected 10m cleanup interval, got %v", cfg.CleanupInterval())
	}
}
