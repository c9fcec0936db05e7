package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/natefinch/lumberjack.v2"

	"traktbridge/api"
	"traktbridge/config"
	"traktbridge/handlers"
	"traktbridge/internal/database"
	"traktbridge/models"
	"traktbridge/services/library"
	"traktbridge/services/mediastore"
	"traktbridge/services/playstate"
	"traktbridge/services/scheduler"
	"traktbridge/services/scrobble"
	"traktbridge/services/syncer"
	"traktbridge/services/trakt"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("traktbridge starting...")

	configPath := os.Getenv("TRAKTBRIDGE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	db, err := database.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Services
	store := mediastore.NewStore(db)
	client := trakt.NewClient(cfgManager)
	syncService := syncer.NewService(client, store, cfgManager)
	schedulerService := scheduler.NewService(cfgManager, syncService)

	// Event hub + coalescers
	hub := models.NewHub()
	libraryCoalescer := library.NewCoalescer(client, cfgManager)
	playstateCoalescer := playstate.NewCoalescer(client, cfgManager)
	scrobbler := scrobble.NewScrobbler(client, cfgManager)
	releaseLibrary := hub.SubscribeLibrary(libraryCoalescer)
	releasePlaystate := hub.SubscribePlaystate(playstateCoalescer)
	releasePlayback := hub.SubscribePlayback(scrobbler)
	libraryCoalescer.Start()
	playstateCoalescer.Start()

	if err := schedulerService.Start(context.Background()); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	// Handlers + routes
	traktHandler := handlers.NewTraktHandler(cfgManager, client)
	libraryHandler := handlers.NewLibraryHandler(store, hub)
	tasksHandler := handlers.NewTasksHandler(cfgManager, schedulerService)

	r := mux.NewRouter()
	api.Register(r, traktHandler, libraryHandler, tasksHandler)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	releaseLibrary()
	releasePlaystate()
	releasePlayback()
	libraryCoalescer.Stop()
	playstateCoalescer.Stop()
	scrobbler.Wait()

	if err := schedulerService.Stop(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
