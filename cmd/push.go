package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/config"
)

// runPushShoppingList implements "foodie-sync push shopping-list": tell
// the running host to push the current list to connected devices.
func runPushShoppingList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("push shopping-list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	target := fs.String("target", "all", "Target device type: all, phone, or tablet")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: foodie-sync push shopping-list [options]\n\nPush the current shopping list to connected devices.\nDevices whose copy is already current are skipped.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	q := url.Values{}
	q.Set("target", *target)
	queued, err := postPush("/api/push/shopping-list", q)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Shopping list push queued for %d device(s).\n", queued)
	return 0
}

// runPushMealPlan implements "foodie-sync push meal-plan".
func runPushMealPlan(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("push meal-plan", flag.ContinueOnError)
	fs.SetOutput(stderr)

	date := fs.String("date", "", "Plan date as YYYY-MM-DD (default: today)")
	target := fs.String("target", "all", "Target device type: all, phone, or tablet")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: foodie-sync push meal-plan [options]\n\nPush one day's meal plan to connected devices.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	q := url.Values{}
	q.Set("target", *target)
	if *date != "" {
		if _, err := time.Parse("2006-01-02", *date); err != nil {
			fmt.Fprintf(stderr, "Error: --date must be YYYY-MM-DD\n")
			return 1
		}
		q.Set("date", *date)
	}

	queued, err := postPush("/api/push/meal-plan", q)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Meal plan push queued for %d device(s).\n", queued)
	return 0
}

// postPush calls a push endpoint on the running host and returns how
// many devices the push was queued for.
func postPush(path string, query url.Values) (int, error) {
	cfg, err := config.Load("")
	if err != nil {
		return 0, err
	}
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultAddr
	}

	reqURL := fmt.Sprintf("http://%s%s?%s", localAPIAddr(cfg.Addr), path, query.Encode())
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(reqURL, "application/json", nil)
	if err != nil {
		return 0, fmt.Errorf("could not connect to host (is it running?): %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Queued int    `json:"queued"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("invalid response from host: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if body.Error != "" {
			return 0, errors.New(body.Error)
		}
		return 0, fmt.Errorf("host returned status %d", resp.StatusCode)
	}
	return body.Queued, nil
}
