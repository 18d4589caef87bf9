package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/unklstewy/adsb-scanner/internal/api"
	"github.com/unklstewy/adsb-scanner/internal/auth"
	"github.com/unklstewy/adsb-scanner/internal/db"
	"github.com/unklstewy/adsb-scanner/internal/logging"
	"github.com/unklstewy/adsb-scanner/internal/scanner"
	"github.com/unklstewy/adsb-scanner/pkg/config"
)

// Collector runs the scanner headless and serves it over HTTP.
// Snapshots and diagnostic events are fanned out to the API, the websocket
// stream and, when enabled, the PostgreSQL event archive.
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.host/port)")
	issueToken := flag.String("issue-token", "", "Print a bearer token for this subject and exit")
	role := flag.String("role", auth.RoleOperator, "Role for -issue-token (operator or viewer)")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  ADS-B Scanner Collector")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Configuration loaded from: %s", *configPath)

	authSvc := auth.NewService(auth.Config{
		Secret:        cfg.Server.JWTSecret,
		TokenDuration: time.Duration(cfg.Server.TokenHours) * time.Hour,
	})
	if *issueToken != "" {
		token, err := authSvc.GenerateToken(*issueToken, *role)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger, err := logging.New(cfg.Logging, nil)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()
	if logger.LogFile != "" {
		log.Printf("✓ Logging to %s", logger.LogFile)
	}

	log.Printf("Origin: %.4f°, %.4f° range %.0f km",
		cfg.Scanner.OriginLatitude, cfg.Scanner.OriginLongitude, cfg.Scanner.RangeKm)
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		log.Printf("  ✓ %s (%s): %s", p.Name, p.Type, p.BaseURL)
		if cfg.Scanner.SecureOrigin && isPlainHTTP(p.BaseURL) {
			log.Printf("    ⚠️  WARNING: plain http provider will fail with secure_origin enabled")
		}
	}

	ctrl, err := scanner.NewFromConfig(cfg, scanner.WithLogger(logger.Logger))
	if err != nil {
		log.Fatalf("Failed to create scanner: %v", err)
	}
	defer ctrl.Close()
	log.Printf("✓ Scanner ready, preferred provider %s", ctrl.Status().Provider)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional event archive
	var (
		archive  api.EventArchive
		archiver *db.Archiver
		database *db.DB
	)
	if cfg.Database.Enabled {
		log.Println("\nConnecting to database...")
		database, err = db.ReconnectWithRetry(ctx, cfg.Database, 5, 2*time.Second, logger.Logger)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		log.Println("✓ Database connected")

		if err := database.InitSchema(ctx); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		log.Println("✓ Database schema initialized")

		repo := db.NewEventRepository(database)
		archive = repo
		archiverCfg := db.DefaultArchiverConfig()
		archiverCfg.Retention = database.Retention()
		archiver = db.NewArchiver(repo, database, archiverCfg, logger.Logger)
		log.Printf("  Event retention: %v", archiverCfg.Retention)
	}

	server := api.NewServer(ctrl, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsEnabled: cfg.Server.MetricsEnabled,
		Archive:        archive,
		Auth:           authSvc,
		Logger:         logger.Logger,
	})
	if authSvc.Enabled() {
		log.Println("✓ Control API requires operator token")
	} else {
		log.Println("⚠️  WARNING: no jwt_secret set, control API is open")
	}
	defer server.Close()

	listen := *addr
	if listen == "" {
		listen = net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	}
	httpServer := &http.Server{
		Addr:        listen,
		Handler:     server.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	collector := &Collector{
		source: ctrl,
		status: ctrl,
		server: server,
		logger: logger.Logger,
	}
	if archiver != nil {
		collector.archiver = archiver
		collector.database = database
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		collector.Run(ctx)
	}()

	go func() {
		log.Printf("📡 API listening on http://%s/api/v1", listen)
		if cfg.Server.MetricsEnabled {
			log.Printf("📊 Metrics on http://%s/metrics", listen)
		}
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server failed: %v", err)
			stop()
		}
	}()

	if cfg.Scanner.AutoStart {
		ctrl.Start()
	}

	log.Println("\n===========================================")
	log.Println("  Collector service started")
	if !cfg.Scanner.AutoStart {
		log.Println("  Scanner idle: POST /api/v1/scanner/start")
	}
	log.Println("  Press Ctrl+C to stop")
	log.Println("===========================================")

	<-ctx.Done()
	log.Println("\nShutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Closing the controller ends the collector once its output is drained
	if err := ctrl.Close(); err != nil {
		log.Printf("Error closing providers: %v", err)
	}
	<-done

	log.Println("✓ Collector service stopped")
}

func isPlainHTTP(rawURL string) bool {
	return strings.HasPrefix(strings.ToLower(rawURL), "http://")
}
