package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/offtrack/offtrack-core/internal/catalog"
)

const appName = "offtrack"

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Cache   CacheConfig   `json:"cache" mapstructure:"cache"`
	Network NetworkConfig `json:"network" mapstructure:"network"`
	Proxy   ProxyConfig   `json:"proxy" mapstructure:"proxy"`
	Admin   AdminConfig   `json:"admin" mapstructure:"admin"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig identifies the active media server
type ServerConfig struct {
	Name     string `json:"name" mapstructure:"name"`
	URL      string `json:"url" mapstructure:"url"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	// StreamURLTemplate is expanded with {url} and {id} to fetch track bytes
	StreamURLTemplate string `json:"stream_url_template" mapstructure:"stream_url_template"`
	// CoverArtURLTemplate is expanded with {url} and {id} to fetch album art
	CoverArtURLTemplate string `json:"cover_art_url_template" mapstructure:"cover_art_url_template"`
}

// CacheConfig contains download and cache sizing settings
type CacheConfig struct {
	Dir                    string    `json:"dir" mapstructure:"dir"`
	StateDBPath            string    `json:"state_db_path" mapstructure:"state_db_path"`
	MaxSizeMB              int64     `json:"max_size_mb" mapstructure:"max_size_mb"`
	MinFreeMB              int64     `json:"min_free_mb" mapstructure:"min_free_mb"`
	PreloadCount           int       `json:"preload_count" mapstructure:"preload_count"`
	Workers                int       `json:"workers" mapstructure:"workers"`
	MaxRetries             int       `json:"max_retries" mapstructure:"max_retries"`
	CleanupIntervalMinutes int       `json:"cleanup_interval_minutes" mapstructure:"cleanup_interval_minutes"`
	DirectoryCacheSize     int       `json:"directory_cache_size" mapstructure:"directory_cache_size"`
	ArtworkSize            int       `json:"artwork_size" mapstructure:"artwork_size"`
	TTL                    TTLConfig `json:"ttl" mapstructure:"ttl"`
}

// TTLConfig holds catalog cache lifetimes in seconds
type TTLConfig struct {
	MusicFolders   int `json:"music_folders" mapstructure:"music_folders"`
	Indexes        int `json:"indexes" mapstructure:"indexes"`
	MusicDirectory int `json:"music_directory" mapstructure:"music_directory"`
	LicenseValid   int `json:"license_valid" mapstructure:"license_valid"`
	LicenseInvalid int `json:"license_invalid" mapstructure:"license_invalid"`
	Playlists      int `json:"playlists" mapstructure:"playlists"`
	Genres         int `json:"genres" mapstructure:"genres"`
	User           int `json:"user" mapstructure:"user"`
}

// NetworkConfig contains network-related settings
type NetworkConfig struct {
	Timeout        int `json:"timeout" mapstructure:"timeout"`
	BandwidthLimit int `json:"bandwidth_limit" mapstructure:"bandwidth_limit"` // KB/s, 0 = unlimited
	TaskWorkers    int `json:"task_workers" mapstructure:"task_workers"`
}

// ProxyConfig contains streaming proxy settings
type ProxyConfig struct {
	PollIntervalMS int `json:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// AdminConfig controls the metrics/health listener of the serve command
type AdminConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		configPath = GetConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// OFFTRACK_CACHE_MAX_SIZE_MB overrides cache.max_size_mb
	v.SetEnvPrefix("OFFTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Watch loads the configuration and calls onChange with every valid
// revision written to the file afterwards.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			return
		}
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server url cannot be empty")
	}

	if !strings.Contains(c.Server.StreamURLTemplate, "{id}") {
		return fmt.Errorf("stream url template must contain {id}")
	}

	if c.Server.CoverArtURLTemplate != "" && !strings.Contains(c.Server.CoverArtURLTemplate, "{id}") {
		return fmt.Errorf("cover art url template must contain {id}")
	}

	if c.Cache.Dir == "" {
		return fmt.Errorf("cache directory cannot be empty")
	}

	if c.Cache.MaxSizeMB < 0 {
		return fmt.Errorf("cache max size cannot be negative")
	}

	if c.Cache.MinFreeMB < 0 {
		return fmt.Errorf("minimum free space cannot be negative")
	}

	if c.Cache.PreloadCount < 0 {
		return fmt.Errorf("preload count cannot be negative")
	}

	if c.Cache.Workers < 1 {
		return fmt.Errorf("download workers must be at least 1")
	}

	if c.Cache.Workers > 16 {
		return fmt.Errorf("download workers cannot exceed 16")
	}

	if c.Cache.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Cache.DirectoryCacheSize < 1 {
		return fmt.Errorf("directory cache size must be at least 1")
	}

	if c.Network.Timeout < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}

	if c.Network.BandwidthLimit < 0 {
		return fmt.Errorf("bandwidth limit cannot be negative")
	}

	if c.Proxy.PollIntervalMS < 10 || c.Proxy.PollIntervalMS >= 1000 {
		return fmt.Errorf("proxy poll interval must be between 10 and 999 ms")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("server", c.Server)
	v.Set("cache", c.Cache)
	v.Set("network", c.Network)
	v.Set("proxy", c.Proxy)
	v.Set("admin", c.Admin)
	v.Set("logging", c.Logging)

	return v.WriteConfig()
}

// ServerContext converts the server section into the catalog's server identity
func (c *Config) ServerContext() catalog.ServerContext {
	name := c.Server.Name
	if name == "" {
		name = c.Server.URL
	}
	return catalog.ServerContext{
		Name:     name,
		URL:      strings.TrimRight(c.Server.URL, "/"),
		Username: c.Server.Username,
		Password: c.Server.Password,
	}
}

// StreamURL expands the stream template for one track
func (c *Config) StreamURL(id string) string {
	return c.expand(c.Server.StreamURLTemplate, id)
}

// CoverArtURL expands the cover art template for one cover id
func (c *Config) CoverArtURL(id string) string {
	return c.expand(c.Server.CoverArtURLTemplate, id)
}

func (c *Config) expand(template, id string) string {
	r := strings.NewReplacer("{url}", strings.TrimRight(c.Server.URL, "/"), "{id}", url.QueryEscape(id))
	return r.Replace(template)
}

// CatalogTTLs converts the TTL section into durations
func (c *Config) CatalogTTLs() catalog.TTLs {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	t := c.Cache.TTL
	return catalog.TTLs{
		MusicFolders:   sec(t.MusicFolders),
		Indexes:        sec(t.Indexes),
		MusicDirectory: sec(t.MusicDirectory),
		LicenseValid:   sec(t.LicenseValid),
		LicenseInvalid: sec(t.LicenseInvalid),
		Playlists:      sec(t.Playlists),
		Genres:         sec(t.Genres),
		User:           sec(t.User),
	}
}

// CleanupInterval returns the period of the scheduled cache sweep
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cache.CleanupIntervalMinutes) * time.Minute
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "")
	v.SetDefault("server.url", "http://localhost:4040")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.stream_url_template", "{url}/rest/stream.view?id={id}")
	v.SetDefault("server.cover_art_url_template", "{url}/rest/getCoverArt.view?id={id}&size=600")

	v.SetDefault("cache.dir", filepath.Join(xdg.CacheHome, appName, "music"))
	v.SetDefault("cache.state_db_path", filepath.Join(GetDataDir(), "state.db"))
	v.SetDefault("cache.max_size_mb", 2048)
	v.SetDefault("cache.min_free_mb", 512)
	v.SetDefault("cache.preload_count", 3)
	v.SetDefault("cache.workers", 1)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.cleanup_interval_minutes", 10)
	v.SetDefault("cache.directory_cache_size", 20)
	v.SetDefault("cache.artwork_size", 512)

	v.SetDefault("cache.ttl.music_folders", 10*3600)
	v.SetDefault("cache.ttl.indexes", 3600)
	v.SetDefault("cache.ttl.music_directory", 5*60)
	v.SetDefault("cache.ttl.license_valid", 30*60)
	v.SetDefault("cache.ttl.license_invalid", 2*60)
	v.SetDefault("cache.ttl.playlists", 3600)
	v.SetDefault("cache.ttl.genres", 10*3600)
	v.SetDefault("cache.ttl.user", 3600)

	v.SetDefault("network.timeout", 30)
	v.SetDefault("network.bandwidth_limit", 0)
	v.SetDefault("network.task_workers", 2)

	v.SetDefault("proxy.poll_interval_ms", 250)

	v.SetDefault("admin.addr", "127.0.0.1:9464")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(GetDataDir(), "logs", "offtrack.log"))
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "settings.json")
}
