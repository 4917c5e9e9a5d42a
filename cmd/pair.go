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

	"github.com/skip2/go-qrcode"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/config"
)

// runPair implements "foodie-sync pair": ask the running host to rotate
// the pairing code, then display it for entry or scanning on the device.
// Rotation invalidates the previous code for devices that have not
// finished pairing.
func runPair(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", "", "Host address for the pairing display (default: detected LAN IP)")
	qr := fs.Bool("qr", false, "Display pairing information as QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: foodie-sync pair [options]\n\nGenerate a fresh pairing code for a companion device.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nThe code stays valid until the next rotation; every device that\nenters it before then becomes trusted.\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultAddr
	}

	code, err := requestPairingCode(localAPIAddr(cfg.Addr))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintf(stderr, "\nThe host must be running to generate a pairing code.\n")
		fmt.Fprintf(stderr, "Start it with: foodie-sync start\n")
		return 1
	}

	display := *addr
	if display == "" {
		display = displayAddr(cfg.Addr)
	}

	if *qr {
		DisplayQRCode(stdout, code, display)
	} else {
		DisplayPairingCode(stdout, code, display)
	}
	return 0
}

// requestPairingCode asks the running host daemon for a rotated code.
func requestPairingCode(apiAddr string) (string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://%s/pair/generate", apiAddr), "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("could not connect to host at %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("host returned status %d", resp.StatusCode)
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("invalid response from host: %w", err)
	}
	if body.Code == "" {
		return "", errors.New("host returned an empty code")
	}
	return body.Code, nil
}

// DisplayPairingCode shows the pairing code to the user.
func DisplayPairingCode(w io.Writer, code, addr string) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         PAIRING CODE")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "           %s\n", FormatCodeWithSpaces(code))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Host: ws://%s/ws\n", addr)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  Enter this code in the companion app to pair.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// DisplayQRCode shows pairing information as a QR code with plain-text
// fallback. The payload uses a URL scheme the companion apps parse:
// foodie://pair?host=<addr>&code=<code>
func DisplayQRCode(w io.Writer, code, addr string) {
	payload := fmt.Sprintf("foodie://pair?host=%s&code=%s", url.QueryEscape(addr), code)

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Falling back to text display.\n\n")
		DisplayPairingCode(w, code, addr)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO PAIR")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "  Plain-text fallback:")
	fmt.Fprintf(w, "  Code: %s\n", FormatCodeWithSpaces(code))
	fmt.Fprintf(w, "  Host: ws://%s/ws\n", addr)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// FormatCodeWithSpaces adds spaces between digits for readability.
// "123456" -> "1 2 3 4 5 6"
func FormatCodeWithSpaces(code string) string {
	result := ""
	for i, c := range code {
		if i > 0 {
			result += " "
		}
		result += string(c)
	}
	return result
}
