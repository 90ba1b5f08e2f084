package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/asgsync/gallery/internal/bridge"
	"github.com/asgsync/gallery/internal/catalog"
	"github.com/asgsync/gallery/internal/config"
	"github.com/asgsync/gallery/internal/connectivity"
	"github.com/asgsync/gallery/internal/engine"
	"github.com/asgsync/gallery/internal/observability"
	"github.com/asgsync/gallery/internal/store"
)

const serviceVersion = "1.0.0"

func main() {
	// Load .env if present; real config comes from config.Load
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Initialize(ctx, observability.NewConfig("gallery-sync", serviceVersion))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	metrics, err := observability.NewSyncMetrics()
	if err != nil {
		log.Printf("Warning: sync metrics unavailable: %v", err)
	}

	dbPath := cfg.MediaStorage.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.MediaStorage.BasePath, dbPath)
	}
	db, err := store.NewSQLiteDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	layout, err := store.NewFileLayout(cfg.MediaStorage.BasePath)
	if err != nil {
		log.Fatalf("Failed to initialize media layout: %v", err)
	}
	mediaStore := store.NewMediaStore(db, layout)

	client := catalog.NewClient(cfg.Camera)
	monitor := connectivity.NewMonitor(client, envPhoneNetwork{}, cfg.Camera.Port, metrics)
	monitor.Start(ctx)
	defer monitor.Stop()

	nativeBridge, err := bridge.DialWS(ctx, cfg.Bridge.URL)
	if err != nil {
		log.Fatalf("Failed to connect native bridge at %s: %v", cfg.Bridge.URL, err)
	}
	defer nativeBridge.Close()

	eng := engine.NewEngine(client, mediaStore, monitor, nativeBridge, cfg.Sync, metrics)
	eng.SetDeviceModel(os.Getenv("GLASSES_MODEL"))
	eng.SetOnChange(func(snap engine.Snapshot) {
		observability.WithFields(map[string]interface{}{
			"state":        string(snap.State),
			"remote_total": snap.RemoteTotal,
		}).Debug("Engine state changed")
	})

	go eng.Run(ctx)
	if err := eng.Start(ctx); err != nil {
		log.Printf("Engine start degraded: %v", err)
	}

	<-ctx.Done()

	observability.Info("Shutting down sync engine")
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eng.Close(closeCtx)
}

// envPhoneNetwork is the development stand-in for the platform network
// feed: state comes from PHONE_WIFI_SSID, and there are no change events.
type envPhoneNetwork struct{}

func (envPhoneNetwork) Current(ctx context.Context) (connectivity.PhoneNetwork, error) {
	ssid := os.Getenv("PHONE_WIFI_SSID")
	return connectivity.PhoneNetwork{
		Connected:   ssid != "",
		SSID:        ssid,
		HasInternet: os.Getenv("PHONE_HAS_INTERNET") != "false",
	}, nil
}

func (envPhoneNetwork) Subscribe(fn func(connectivity.PhoneNetwork)) func() {
	return func() {}
}
