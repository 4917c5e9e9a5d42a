package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/config"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/data"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/pairing"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/ratelimit"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/registry"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/server"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/syncstate"
)

// runStart implements the "foodie-sync start" command:
//  1. Creates ~/.foodie-sync/config.toml with LAN-ready defaults if missing
//  2. Opens the recipe database and the trusted-device registry
//  3. Starts the WebSocket server and blocks until SIGINT/SIGTERM
func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.foodie-sync/config.toml)")
	addr := fs.String("addr", "", "Listen address (default: 0.0.0.0:8765)")
	pairFlag := fs.Bool("pair", false, "Display the pairing code during startup")
	qr := fs.Bool("qr", false, "Display the pairing code as a QR code (implies --pair)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: foodie-sync start [options]

Start the sync host. Companion apps on the LAN connect over WebSocket;
unknown devices must enter the pairing code before they can sync.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	dataDir, err := config.DefaultDataDir()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create data directory: %v\n", err)
		return 1
	}
	cfg.ApplyDefaults(dataDir)

	// Seed a config file on first run so the defaults are discoverable.
	if *configPath == "" {
		if defaultPath, err := config.DefaultConfigPath(); err == nil {
			if err := config.WriteDefault(defaultPath); err != nil {
				fmt.Fprintf(stderr, "Warning: could not write default config: %v\n", err)
			}
		}
	}

	store, err := data.NewSQLiteStore(cfg.DataDB)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open recipe database: %v\n", err)
		return 1
	}
	defer store.Close()

	devices, err := registry.NewFileStore(cfg.DevicesFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open device registry: %v\n", err)
		return 1
	}

	challenge := pairing.New()

	srv, err := server.New(server.Config{
		Addr:           cfg.Addr,
		Registry:       devices,
		Challenge:      challenge,
		Limiter:        ratelimit.New(cfg.RateLimitMax, time.Duration(cfg.RateLimitWindowSecs)*time.Second),
		Tracker:        syncstate.New(),
		DataService:    store,
		PairingTimeout: time.Duration(cfg.PairingTimeoutSecs) * time.Second,
		BatchDelay:     time.Duration(cfg.BatchDelayMs) * time.Millisecond,
		PingInterval:   time.Duration(cfg.PingIntervalSecs) * time.Second,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := <-srv.StartAsync(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "  foodie-sync host")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintf(stdout, "  Listening: %s\n", cfg.Addr)
	fmt.Fprintf(stdout, "  Reachable: ws://%s/ws\n", displayAddr(cfg.Addr))
	fmt.Fprintf(stdout, "  Database:  %s\n", cfg.DataDB)
	fmt.Fprintf(stdout, "  Devices:   %s\n", cfg.DevicesFile)
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "")

	if *pairFlag || cfg.Pair || *qr || cfg.QR {
		code, err := challenge.Code()
		if err != nil {
			fmt.Fprintf(stderr, "Warning: could not generate pairing code: %v\n", err)
		} else if *qr || cfg.QR {
			DisplayQRCode(stdout, code, displayAddr(cfg.Addr))
		} else {
			DisplayPairingCode(stdout, code, displayAddr(cfg.Addr))
		}
	} else {
		fmt.Fprintln(stdout, "Run 'foodie-sync pair' to display the pairing code.")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Fprintln(stdout, "\nShutting down...")
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(stderr, "Error during shutdown: %v\n", err)
		return 1
	}
	return 0
}
