package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `foodie-sync - LAN sync host for meal planner companion apps

Usage:
  foodie-sync <command> [options]

Commands:
  start         Start the sync host (WebSocket server + pairing gate)
  pair          Generate and display a pairing code
  devices list  List trusted devices
  devices untrust <device-id>  Revoke a device's trust
  push shopping-list   Push the current shopping list to connected devices
  push meal-plan       Push a day's meal plan to connected devices

Run 'foodie-sync <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "start":
		return runStart(args[2:], stdout, stderr)
	case "pair":
		return runPair(args[2:], stdout, stderr)
	case "devices":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: foodie-sync devices <list|untrust>")
			return 1
		}
		switch args[2] {
		case "list":
			return runDevicesList(args[3:], stdout, stderr)
		case "untrust":
			return runDevicesUntrust(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown devices command: %s\n", args[2])
			return 1
		}
	case "push":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: foodie-sync push <shopping-list|meal-plan>")
			return 1
		}
		switch args[2] {
		case "shopping-list":
			return runPushShoppingList(args[3:], stdout, stderr)
		case "meal-plan":
			return runPushMealPlan(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown push command: %s\n", args[2])
			return 1
		}
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "foodie-sync %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
