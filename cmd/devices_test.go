package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/registry"
)

func TestDevicesListMissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "devices.json")
	code := runDevicesList([]string{"--devices-file", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "No trusted devices") {
		t.Fatalf("expected empty message, got %q", stdout.String())
	}
}

func TestDevicesListShowsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	store, err := registry.NewFileStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	now := time.Now()
	if err := store.Upsert(&registry.Device{
		ID: "phone-abc", Name: "Kitchen Phone", Type: registry.DeviceTypePhone,
		PairedAt: now.Add(-48 * time.Hour), LastSeen: now.Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := runDevicesList([]string{"--devices-file", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr: %s)", code, stderr.String())
	}

	out := stdout.String()
	if !strings.Contains(out, "phone-abc") || !strings.Contains(out, "Kitchen Phone") {
		t.Fatalf("device row missing: %q", out)
	}
	if !strings.Contains(out, "2h ago") {
		t.Fatalf("last seen missing: %q", out)
	}
}
