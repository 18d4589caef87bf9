package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/adsb-scanner/internal/logging"
	"github.com/unklstewy/adsb-scanner/internal/scanner"
	"github.com/unklstewy/adsb-scanner/pkg/config"
)

// Radarwatch is a terminal radar scope. It drives a scanner in-process and
// dead-reckons targets between snapshots.
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	logFile := flag.String("log", "", "Log file (overrides logging.file)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *logFile != "" {
		cfg.Logging.File = *logFile
	}

	// stderr would corrupt the alt screen, so logs go to a file or nowhere
	logger, err := logging.New(cfg.Logging, io.Discard)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()

	ctrl, err := scanner.NewFromConfig(cfg, scanner.WithLogger(logger.Logger))
	if err != nil {
		log.Fatalf("Failed to create scanner: %v", err)
	}
	defer ctrl.Close()

	ctrl.Start()

	m := newModel(ctrl, ctrl.Snapshots(), ctrl.Events())
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
