package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/unklstewy/adsb-scanner/internal/logging"
	"github.com/unklstewy/adsb-scanner/internal/scanner"
	"github.com/unklstewy/adsb-scanner/pkg/config"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	maxLines := flag.Int("log-lines", 500, "Event lines kept in the log pane")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("console version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// The event pane replaces console logging; a log file still works
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

	app := NewApp(ctrl, *maxLines)
	if cfg.Scanner.AutoStart {
		ctrl.Start()
	} else {
		app.logs.Info("Scanner idle, press s to start")
	}

	if err := app.Run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

// printHelp prints usage information
func printHelp() {
	fmt.Println("console - Terminal console for the ADS-B scanner")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  console [options]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to configuration file (default: configs/config.json)")
	fmt.Println("  -log-lines int")
	fmt.Println("        Event lines kept in the log pane (default: 500)")
	fmt.Println("  -version")
	fmt.Println("        Show version information")
	fmt.Println("  -help")
	fmt.Println("        Show this help message")
	fmt.Println()
	fmt.Println("KEYBOARD SHORTCUTS:")
	fmt.Println("  Scanner:")
	fmt.Println("    s              Start or stop scanning")
	fmt.Println("    p              Switch to the next provider")
	fmt.Println("    +/-            Widen or narrow the range")
	fmt.Println()
	fmt.Println("  Events:")
	fmt.Println("    a              Toggle auto-scroll")
	fmt.Println("    c              Clear the event pane")
	fmt.Println()
	fmt.Println("  Navigation:")
	fmt.Println("    ↑/↓            Select target")
	fmt.Println()
	fmt.Println("  Control:")
	fmt.Println("    q or Esc       Quit application")
}
