package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/config"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/registry"
)

// formatDuration formats a duration in a human-readable way.
// Examples: "just now", "5m ago", "2h ago", "3d ago"
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "in the future"
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

// runDevicesList prints the trusted-device registry. It reads the
// registry file directly, so it works whether or not the host is running.
func runDevicesList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	devicesFile := fs.String("devices-file", "", "Path to device registry (default: ~/.foodie-sync/devices.json)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: foodie-sync devices list [options]\n\nList trusted devices.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path := *devicesFile
	if path == "" {
		cfg, err := config.Load("")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		dataDir, err := config.DefaultDataDir()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cfg.ApplyDefaults(dataDir)
		path = cfg.DevicesFile
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(stdout, "No trusted devices.")
		return 0
	}

	store, err := registry.NewFileStore(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open device registry: %v\n", err)
		return 1
	}

	devices, err := store.List()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to list devices: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(stdout, "No trusted devices.")
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tPAIRED\tLAST SEEN")
	now := time.Now()
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Name, d.Type,
			d.PairedAt.Format("2006-01-02"),
			formatDuration(now.Sub(d.LastSeen)))
	}
	tw.Flush()
	return 0
}

// runDevicesUntrust revokes a device's trust. When the host is running
// it goes through the API so a live session gets notified and closed;
// otherwise it edits the registry file directly.
func runDevicesUntrust(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices untrust", flag.ContinueOnError)
	fs.SetOutput(stderr)

	devicesFile := fs.String("devices-file", "", "Path to device registry (default: ~/.foodie-sync/devices.json)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: foodie-sync devices untrust <device-id> [options]\n\nRevoke a device's trust. It must pair again to reconnect.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Error: device id required")
		fs.Usage()
		return 1
	}
	deviceID := fs.Arg(0)

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg.ApplyDefaults(dataDir)
	if *devicesFile != "" {
		cfg.DevicesFile = *devicesFile
	}

	// Prefer the running host: it notifies the device and closes its
	// session in addition to deleting the record.
	if untrustViaHost(localAPIAddr(cfg.Addr), deviceID) {
		fmt.Fprintf(stdout, "Device %s untrusted.\n", deviceID)
		return 0
	}

	store, err := registry.NewFileStore(cfg.DevicesFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open device registry: %v\n", err)
		return 1
	}
	if err := store.Delete(deviceID); err != nil {
		fmt.Fprintf(stderr, "Error: failed to delete device: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Device %s untrusted (host not running, registry edited directly).\n", deviceID)
	return 0
}

func untrustViaHost(apiAddr, deviceID string) bool {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(
		fmt.Sprintf("http://%s/api/devices/%s/untrust", apiAddr, deviceID),
		"application/json", nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return resp.StatusCode == http.StatusOK
}
