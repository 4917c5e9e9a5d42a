// Package registry persists the trusted-device records for the sync host.
//
// A device becomes trusted by completing the pairing handshake, and stays
// trusted across host restarts until it is explicitly untrusted. Records are
// stored as a flat id -> record JSON map in a single file, loaded at startup
// and rewritten after every pair, refresh, or untrust. The companion mobile
// apps read the same format, so the on-disk shape is part of the contract.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrDeviceNotFound is returned when a device lookup fails.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceType classifies a companion device. Unknown is used when the peer
// did not report a type at session establishment.
type DeviceType string

const (
	DeviceTypePhone   DeviceType = "phone"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeUnknown DeviceType = "unknown"
)

// ParseDeviceType maps a peer-supplied type string onto the known set.
// Anything unrecognized becomes DeviceTypeUnknown rather than an error;
// the type is advisory routing metadata, not a trust decision.
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(s) {
	case DeviceTypePhone:
		return DeviceTypePhone
	case DeviceTypeTablet:
		return DeviceTypeTablet
	default:
		return DeviceTypeUnknown
	}
}

// Device is a durable trusted-device record.
// Created on first successful pairing; LastSeen refreshes on every reconnect.
type Device struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     DeviceType `json:"type"`
	PairedAt time.Time  `json:"pairedAt"`
	LastSeen time.Time  `json:"lastSeen"`
}

// Store defines the interface for persisting trusted devices.
// Implementations must be safe for concurrent access.
type Store interface {
	// Get retrieves a device by ID.
	// Returns nil, nil if the device does not exist.
	Get(id string) (*Device, error)

	// Upsert persists a device record.
	// If a record with the same ID exists, it is replaced.
	Upsert(device *Device) error

	// Delete removes a device from storage.
	// Returns nil if the device does not exist (idempotent).
	Delete(id string) error

	// List returns all trusted devices, ordered by PairedAt.
	List() ([]*Device, error)

	// Touch updates the LastSeen timestamp for a device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Touch(id string, t time.Time) error
}

// FileStore implements Store using a flat JSON map on local disk.
// The whole map is held in memory and the file is rewritten atomically
// (temp file + rename) after every mutation. The registry is small - a
// handful of phones and tablets - so whole-file rewrites are fine.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	devices map[string]*Device
}

// NewFileStore loads (or initializes) the registry file at the given path.
// A missing file is an empty registry; a file that exists but cannot be
// parsed is an error, so corruption is caught at startup rather than
// silently wiping paired devices on the next rewrite.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		devices: make(map[string]*Device),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Printf("registry: no device file at %s, starting empty", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read device registry: %w", err)
	}

	if err := json.Unmarshal(raw, &s.devices); err != nil {
		return nil, fmt.Errorf("parse device registry %s: %w", path, err)
	}

	log.Printf("registry: loaded %d trusted devices from %s", len(s.devices), path)
	return s, nil
}

// Get retrieves a device by ID. Returns nil, nil if absent.
func (s *FileStore) Get(id string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

// Upsert persists a device record, replacing any existing record with the
// same ID, and rewrites the registry file.
func (s *FileStore) Upsert(device *Device) error {
	if device == nil {
		return errors.New("device cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("registry: saving device %s (%s)", device.ID, device.Name)

	cp := *device
	s.devices[device.ID] = &cp
	return s.persistLocked()
}

// Delete removes a device and rewrites the registry file.
// Deleting an unknown device is a no-op (idempotent).
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; !ok {
		return nil
	}

	log.Printf("registry: deleting device %s", id)
	delete(s.devices, id)
	return s.persistLocked()
}

// List returns all trusted devices ordered by PairedAt.
func (s *FileStore) List() ([]*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*Device, 0, len(s.devices))
	for _, d := range s.devices {
		cp := *d
		devices = append(devices, &cp)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].PairedAt.Before(devices[j].PairedAt)
	})
	return devices, nil
}

// Touch updates the LastSeen timestamp for a device.
func (s *FileStore) Touch(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}

	d.LastSeen = t
	return s.persistLocked()
}

// persistLocked rewrites the registry file. Must be called with mu held.
// The write goes to a temp file in the same directory followed by a rename,
// so a crash mid-write can never leave a truncated registry behind.
func (s *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(s.devices, "", "  ")
	if err != nil {
		return fmt.Errorf("encode device registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".devices-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write device registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod registry file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace device registry: %w", err)
	}

	return nil
}
