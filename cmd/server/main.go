package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/api"
	"github.com/TheGojiOG/CfxSM/internal/builds"
	"github.com/TheGojiOG/CfxSM/internal/config"
	"github.com/TheGojiOG/CfxSM/internal/console"
	"github.com/TheGojiOG/CfxSM/internal/database"
	"github.com/TheGojiOG/CfxSM/internal/datafolder"
	"github.com/TheGojiOG/CfxSM/internal/logging"
	"github.com/TheGojiOG/CfxSM/internal/metrics"
	"github.com/TheGojiOG/CfxSM/internal/server"
	"github.com/TheGojiOG/CfxSM/internal/websocket"
)

func main() {
	// Load configuration
	store, err := config.NewStore(config.GetConfigPath())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := store.Get()
	paths := store.Paths()

	// Set up logging
	if err := setupLogging(cfg, paths); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logging.Close()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrations(paths.DatabasePath, os.Args[2:])
		return
	}

	// Initialize database
	db, err := database.NewDB(paths.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	// Builds and data folders
	var installer builds.Installer
	if commandInstaller := builds.NewCommandInstaller(cfg.Installer, paths.TempDir); commandInstaller != nil {
		installer = commandInstaller
	} else {
		logging.L().Warn("build_installer_not_configured")
	}
	catalog := builds.NewCatalog(paths.BuildsDir, installer, db)

	folders := datafolder.NewManager(paths.DataDir)
	watcher, err := datafolder.NewWatcher(folders, func() {
		hub.Publish(websocket.RoomRuntime, "folders_changed", folderNames(folders))
	})
	if err != nil {
		logging.L().Warn("data_folder_watch_failed", "root", paths.DataDir, "error", err)
	} else {
		go watcher.Run(ctx)
	}

	// Metrics
	collector := metrics.NewCollector(func() metrics.Inventory {
		return inventory(folders, catalog)
	}, 30*time.Second)
	collector.Start()
	defer collector.Stop()

	// Runtime
	feed := console.NewFeed(console.DefaultBufferLines, hub, websocket.RoomConsole)
	host := server.NewLocalProcessHost(cfg.Logging, server.DefaultStopGrace, func(_ server.ProcessHandle, line string) {
		feed.Append(line)
	})
	manager := server.NewRuntimeManager(store, host,
		server.WithSessionStore(server.NewSQLSessionStore(db)),
		server.WithRecorder(collector),
		server.WithEventSink(server.EventSinkFunc(func(event server.Event) {
			hub.Publish(websocket.RoomRuntime, string(event.Type), event)
		})),
	)

	scheduler := server.NewRestartScheduler(manager)
	if err := scheduler.Apply(cfg); err != nil {
		logging.L().Error("auto_restart_schedule_invalid", "schedule", cfg.AutoRestart.Schedule, "error", err)
	}
	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(schedulerCtx)
	}()

	router := api.SetupRouter(api.Services{
		Store:     store,
		Catalog:   catalog,
		Folders:   folders,
		Runtime:   manager,
		Scheduler: scheduler,
		Hub:       hub,
		Feed:      feed,
		Metrics:   collector,
	})

	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// start and install requests are answered only once they finish
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.L().Info("http_server_starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.L().Info("shutdown_requested")

	// nothing may start a new session once the child is stopped
	stopScheduler()
	<-schedulerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.L().Error("http_server_forced_shutdown", "error", err)
	}

	if err := manager.Shutdown(); err != nil {
		logging.L().Error("server_stop_failed", "error", err)
	}
	cancel()

	logging.L().Info("shutdown_complete")
}

func setupLogging(cfg *config.Config, paths config.Paths) error {
	if strings.TrimSpace(cfg.Logging.File) == "" {
		cfg.Logging.File = filepath.Join(paths.DataDir, "logs", "manager.log")
	}
	_, err := logging.Init(cfg.Logging)
	return err
}

// runMigrations handles `migrate`, `migrate down` and `migrate status`
func runMigrations(path string, args []string) {
	db, err := database.NewDB(path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "up":
		log.Println("Running database migrations...")
		if err := db.Migrate(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	case "down":
		version, err := db.Rollback()
		if err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		if version == "" {
			log.Println("No migrations to roll back")
			return
		}
		log.Printf("Rolled back migration %s", version)
	case "status":
		applied, err := db.Applied()
		if err != nil {
			log.Fatalf("Failed to list migrations: %v", err)
		}
		log.Printf("Applied migrations: %s", strings.Join(applied, ", "))
	default:
		log.Fatalf("Unknown migrate action %q (want up, down or status)", action)
	}
}

func folderNames(folders *datafolder.Manager) []string {
	list, err := folders.List()
	if err != nil {
		logging.L().Warn("data_folder_list_failed", "error", err)
		return []string{}
	}
	names := make([]string, 0, len(list))
	for _, folder := range list {
		names = append(names, folder.Name())
	}
	return names
}

func inventory(folders *datafolder.Manager, catalog *builds.Catalog) metrics.Inventory {
	var inv metrics.Inventory

	if list, err := folders.List(); err == nil {
		inv.Folders = len(list)
		for _, folder := range list {
			if folder.HasConfiguration() {
				inv.ConfiguredFolders++
			}
		}
	}
	if list, err := catalog.List(); err == nil {
		inv.Builds = len(list)
		for _, build := range list {
			if build.IsInstalled() {
				inv.InstalledBuilds++
			}
		}
	}
	return inv
}
