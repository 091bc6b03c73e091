// Package settings implements the process-wide settings store (C4):
// a read-mostly map of fixed keys shared by the detector and explainer.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ctxlens/backend/pkg/Logger"
)

// Fixed setting keys, per the data model.
const (
	KeyDomain              = "domain"
	KeyExplanationStyle    = "explanation_style"
	KeyAIModel             = "ai_model"
	KeyConfidenceThreshold = "confidence_threshold"
	KeyCooldownSeconds     = "cooldown_seconds"
)

// Defaults mirror the detector/explainer defaults named in the spec.
func Defaults() map[string]any {
	return map[string]any{
		KeyDomain:              "general",
		KeyExplanationStyle:    "neutral",
		KeyAIModel:             "llama3",
		KeyConfidenceThreshold: 0.9,
		KeyCooldownSeconds:     300.0,
	}
}

// Store is the process-global settings map, guarded by its own lock.
type Store struct {
	path string
	log  *Logger.Logger

	mu          sync.RWMutex
	values      map[string]any
	lastUpdated time.Time
}

// New constructs a store seeded with Defaults(), backed by path for
// Load/Save.
func New(path string, log *Logger.Logger) *Store {
	return &Store{
		path:   path,
		log:    log,
		values: Defaults(),
	}
}

// Update shallow-merges m into the store. Non-map updates are not
// representable in Go's type system the way they were in the source's
// dynamically-typed dict merge, so this accepts only map[string]any;
// callers passing anything else is a compile error, which is strictly
// stronger than the "ignored with a warning" runtime behavior it
// replaces.
func (s *Store) Update(m map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range m {
		s.values[k] = v
	}
}

// Get returns the value for key, or def if unset.
func (s *Store) Get(key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// GetString is a convenience accessor for string-typed settings.
func (s *Store) GetString(key, def string) string {
	v := s.Get(key, def)
	if str, ok := v.(string); ok {
		return str
	}
	return def
}

// GetFloat is a convenience accessor for numeric settings.
func (s *Store) GetFloat(key string, def float64) float64 {
	v := s.Get(key, def)
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// GetAll returns a copy of the full settings map.
func (s *Store) GetAll() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// ResetToDefaults discards all overrides.
func (s *Store) ResetToDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = Defaults()
}

type onDiskFormat struct {
	Values      map[string]any `json:"values"`
	LastUpdated time.Time      `json:"last_updated"`
}

// LoadFromFile replaces in-memory settings with the file's contents. A
// missing file is not an error; the store keeps its current values.
func (s *Store) LoadFromFile() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("settings: read %s: %w", s.path, err)
	}
	var onDisk onDiskFormat
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return fmt.Errorf("settings: decode %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if onDisk.Values != nil {
		s.values = onDisk.Values
	}
	s.lastUpdated = onDisk.LastUpdated
	return nil
}

// SaveToFile writes the current settings, stamping last_updated.
func (s *Store) SaveToFile() error {
	s.mu.Lock()
	s.lastUpdated = time.Now()
	onDisk := onDiskFormat{Values: s.values, LastUpdated: s.lastUpdated}
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("settings: atomic replace: %w", err)
	}
	if s.log != nil {
		s.log.Infof("settings saved to %s", s.path)
	}
	return nil
}
