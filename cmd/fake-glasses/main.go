// fake-glasses runs the camera-server simulator plus a native-shell bridge
// endpoint, so the sync engine can be exercised end to end on a dev machine.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/asgsync/gallery/internal/camserver"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cameraAddr := ":" + envOr("FAKE_CAMERA_PORT", "8089")
	bridgeAddr := ":" + envOr("FAKE_BRIDGE_PORT", "8090")
	seed := envInt("FAKE_SEED_PHOTOS", 5)

	lib := camserver.NewLibrary()
	for i := 0; i < seed; i++ {
		lib.Capture()
	}

	srv := camserver.NewServer(lib, camserver.Options{
		RateLimit:  envInt("FAKE_RATE_LIMIT", 0),
		RateWindow: time.Second,
	})

	shell := camserver.NewShellSimulator(lib, camserver.HotspotInfo{
		SSID:     envOr("FAKE_HOTSPOT_SSID", "ASG-Glasses-Hotspot"),
		Password: envOr("FAKE_HOTSPOT_PASSWORD", "sync12345"),
		LocalIP:  envOr("FAKE_HOTSPOT_IP", "127.0.0.1"),
	})
	bridgeMux := http.NewServeMux()
	bridgeMux.Handle("/bridge", shell)

	cameraSrv := &http.Server{
		Addr:         cameraAddr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	bridgeSrv := &http.Server{
		Addr:    bridgeAddr,
		Handler: bridgeMux,
	}

	go func() {
		log.Printf("Fake camera server on %s (%d seeded photos)", cameraAddr, seed)
		if err := cameraSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Camera server error: %v", err)
		}
	}()
	go func() {
		log.Printf("Fake bridge on ws://localhost%s/bridge", bridgeAddr)
		if err := bridgeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Bridge server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cameraSrv.Shutdown(ctx)
	bridgeSrv.Shutdown(ctx)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
