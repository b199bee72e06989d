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

	"github.com/yourusername/network-backup-manager/internal/api"
	"github.com/yourusername/network-backup-manager/internal/backup"
	"github.com/yourusername/network-backup-manager/internal/config"
	"github.com/yourusername/network-backup-manager/internal/crypto"
	"github.com/yourusername/network-backup-manager/internal/database"
	"github.com/yourusername/network-backup-manager/internal/executor"
	"github.com/yourusername/network-backup-manager/internal/history"
	"github.com/yourusername/network-backup-manager/internal/logging"
	"github.com/yourusername/network-backup-manager/internal/prober"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/yourusername/network-backup-manager/internal/provider"
	"github.com/yourusername/network-backup-manager/internal/scheduler"
	"github.com/yourusername/network-backup-manager/internal/service"
	"github.com/yourusername/network-backup-manager/internal/ssh"
	"github.com/yourusername/network-backup-manager/internal/store"
	"github.com/yourusername/network-backup-manager/internal/transport"
	"github.com/yourusername/network-backup-manager/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logging.Close()

	// Check if running migrations
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrations(cfg)
		return
	}

	// Initialize database
	db, err := database.Open(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully")

	enc, err := crypto.NewEncryptionManager()
	if err != nil {
		log.Fatalf("Failed to initialize credential encryption: %v", err)
	}
	st := store.New(db.DB, enc)

	ledger, err := history.NewLedger(db.DB, cfg.Storage.HistoryDir)
	if err != nil {
		log.Fatalf("Failed to initialize history ledger: %v", err)
	}
	defer ledger.Close()

	hostKeys, err := ssh.NewHostKeyStore(cfg.Security.SSH.KnownHostsPath, cfg.Security.SSH.TrustOnFirstUse)
	if err != nil {
		log.Fatalf("Failed to load known hosts: %v", err)
	}

	registry := profile.Default()
	if cfg.Backup.ProfilesFile != "" {
		if err := registry.LoadFile(cfg.Backup.ProfilesFile); err != nil {
			log.Fatalf("Failed to load equipment profiles: %v", err)
		}
	}

	factory := transport.NewFactory(transport.Options{
		DialTimeout:      config.ParseDuration(cfg.Prober.HandshakeTimeout, 15*time.Second),
		HostKeys:         hostKeys,
		LegacyAlgorithms: cfg.Security.SSH.LegacyAlgorithms,
	})

	exec := executor.New(registry, factory, executor.Options{
		StepTimeout:      config.ParseDuration(cfg.Scheduler.StepTimeout, 0),
		ExecutionTimeout: config.ParseDuration(cfg.Scheduler.ExecutionTimeout, 0),
	})

	if err := os.MkdirAll(cfg.Storage.BackupDir, 0750); err != nil {
		log.Fatalf("Failed to create backup directory: %v", err)
	}
	providers := backup.NewProviders(st,
		provider.Options{HostKeys: hostKeys, BaseDir: cfg.Storage.DataDir},
		cfg.Backup.DefaultProviderID,
		provider.NewLocal(provider.LocalConfig{Path: cfg.Storage.BackupDir}, ""),
	)
	manager := backup.NewManager(st, providers, ledger, cfg.Backup.RetentionCount)
	syncs := backup.NewSyncManager(st, providers, ledger)

	log.Println("Initializing WebSocket hub...")
	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	schedCfg := scheduler.Config{
		PollInterval:    config.ParseDuration(cfg.Scheduler.PollInterval, 30*time.Second),
		Workers:         cfg.Scheduler.Workers,
		QueueSize:       cfg.Scheduler.QueueSize,
		DrainTimeout:    config.ParseDuration(cfg.Scheduler.DrainTimeout, 2*time.Minute),
		SyncMaxAttempts: cfg.Sync.MaxAttempts,
	}
	opts := []scheduler.Option{scheduler.WithRecorder(ledger), scheduler.WithPublisher(hub)}
	if cfg.Sync.AutoRetry {
		schedCfg.SyncRetryInterval = config.ParseDuration(cfg.Sync.AutoRetryInterval, 15*time.Minute)
		opts = append(opts, scheduler.WithSyncRetrier(syncs))
	}
	sched := scheduler.New(st, registry, scheduler.NewPipeline(exec, manager, ledger), schedCfg, opts...)

	pinger := prober.ICMPPinger{
		Count:      cfg.Prober.PingCount,
		Timeout:    config.ParseDuration(cfg.Prober.PingTimeout, 5*time.Second),
		Privileged: cfg.Prober.Privileged,
	}
	probe := prober.New(pinger, factory, registry, ledger, config.ParseDuration(cfg.Prober.HandshakeTimeout, 15*time.Second))

	orch := service.New(service.Deps{
		Store:     st,
		Registry:  registry,
		Scheduler: sched,
		Prober:    probe,
		Backups:   manager,
		Syncs:     syncs,
		Providers: providers,
		Ledger:    ledger,
		Publisher: hub,
	})
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("All components initialized successfully")

	// Set up HTTP server
	router := api.SetupRouter(cfg, orch, hub)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Manual backups and syncs answer when they finish.
		WriteTimeout: config.ParseDuration(cfg.Scheduler.ExecutionTimeout, 10*time.Minute) + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s", server.Addr)

		if cfg.Server.TLS.Enabled {
			if err := server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start HTTPS server: %v", err)
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start HTTP server: %v", err)
			}
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), schedCfg.DrainTimeout+10*time.Second)
	defer drainCancel()
	log.Println("Waiting for running backups to finish...")
	if err := orch.Stop(drainCtx); err != nil {
		log.Printf("Scheduler stopped with error: %v", err)
	}

	cancel()
	log.Println("Server exited")
}

func setupLogging(cfg *config.Config) error {
	if cfg != nil && strings.TrimSpace(cfg.Logging.File) == "" {
		dataDir := cfg.Storage.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		cfg.Logging.File = filepath.Join(dataDir, "logs", "server.log")
	}
	if cfg != nil && strings.TrimSpace(cfg.Logging.File) != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return err
		}
	}
	_, err := logging.Init(cfg.Logging)
	return err
}

func runMigrations(cfg *config.Config) {
	log.Println("Running database migrations...")

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Migrations completed successfully")
}
