package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all engine configuration
type Config struct {
	Camera       Camera       `json:"camera"`
	MediaStorage MediaStorage `json:"mediaStorage"`
	Bridge       Bridge       `json:"bridge"`
	Sync         Sync         `json:"sync"`
}

// Camera holds the camera-server endpoint and timeouts
type Camera struct {
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	ProbeTimeoutSec        int    `json:"probeTimeoutSec"`
	ListTimeoutSec         int    `json:"listTimeoutSec"`
	DownloadTimeoutMinutes int    `json:"downloadTimeoutMinutes"`
}

// MediaStorage holds the on-phone layout for downloaded media
type MediaStorage struct {
	BasePath     string `json:"basePath"`
	DatabasePath string `json:"databasePath"`
}

// Bridge holds the native-bridge WebSocket endpoint
type Bridge struct {
	URL string `json:"url"`
}

// Sync holds batch-sync tunables
type Sync struct {
	PageSize          int  `json:"pageSize"`
	PrefetchMargin    int  `json:"prefetchMargin"`
	IncludeThumbnails bool `json:"includeThumbnails"`
}

// ProbeTimeout returns the reachability-probe timeout
func (c Camera) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// ListTimeout returns the catalog-listing timeout
func (c Camera) ListTimeout() time.Duration {
	return time.Duration(c.ListTimeoutSec) * time.Second
}

// DownloadTimeout returns the per-file download timeout. The WiFi link to
// the embedded camera is slow and bursty, so this is minutes, not seconds.
func (c Camera) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutMinutes) * time.Minute
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		Camera: Camera{
			Host:                   "192.168.4.1",
			Port:                   8089,
			ProbeTimeoutSec:        3,
			ListTimeoutSec:         10,
			DownloadTimeoutMinutes: 10,
		},
		MediaStorage: MediaStorage{
			BasePath:     "./asg_media",
			DatabasePath: "gallery.db",
		},
		Bridge: Bridge{
			URL: "ws://127.0.0.1:8090/bridge",
		},
		Sync: Sync{
			PageSize:          20,
			PrefetchMargin:    5,
			IncludeThumbnails: true,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if host := os.Getenv("CAMERA_HOST"); host != "" {
		cfg.Camera.Host = host
	}
	if port := os.Getenv("CAMERA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			cfg.Camera.Port = p
		}
	}
	if basePath := os.Getenv("MEDIA_STORAGE_PATH"); basePath != "" {
		cfg.MediaStorage.BasePath = basePath
	}
	if dbPath := os.Getenv("GALLERY_DB_PATH"); dbPath != "" {
		cfg.MediaStorage.DatabasePath = dbPath
	}
	if bridgeURL := os.Getenv("BRIDGE_URL"); bridgeURL != "" {
		cfg.Bridge.URL = bridgeURL
	}
	if pageSize := os.Getenv("SYNC_PAGE_SIZE"); pageSize != "" {
		if n, err := strconv.Atoi(pageSize); err == nil && n > 0 {
			cfg.Sync.PageSize = n
		}
	}

	// Ensure media storage directory exists
	if err := os.MkdirAll(cfg.MediaStorage.BasePath, 0755); err != nil {
		return nil, err
	}

	// Make base path absolute
	absPath, err := filepath.Abs(cfg.MediaStorage.BasePath)
	if err != nil {
		return nil, err
	}
	cfg.MediaStorage.BasePath = absPath

	return cfg, nil
}
