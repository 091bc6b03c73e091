package settings

import (
	"path/filepath"
	"testing"
)

func TestUpdateShallowMerge(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "settings.json"), nil)
	s.Update(map[string]any{KeyDomain: "medicine"})

	if got := s.GetString(KeyDomain, ""); got != "medicine" {
		t.Fatalf("expected domain medicine, got %q", got)
	}
	if got := s.GetFloat(KeyConfidenceThreshold, 0); got != 0.9 {
		t.Fatalf("unrelated default should survive merge, got %v", got)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := New(path, nil)
	s.Update(map[string]any{KeyCooldownSeconds: 120.0})
	if err := s.SaveToFile(); err != nil {
		t.Fatal(err)
	}

	reloaded := New(path, nil)
	if err := reloaded.LoadFromFile(); err != nil {
		t.Fatal(err)
	}
	if got := reloaded.GetFloat(KeyCooldownSeconds, 0); got != 120.0 {
		t.Fatalf("expected reloaded cooldown 120, got %v", got)
	}
}

func TestResetToDefaults(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "settings.json"), nil)
	s.Update(map[string]any{KeyDomain: "medicine"})
	s.ResetToDefaults()

	if got := s.GetString(KeyDomain, ""); got != "general" {
		t.Fatalf("expected reset domain general, got %q", got)
	}
}
