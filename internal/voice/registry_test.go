package voice

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryBuiltins(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"af_heart", "bm_lewis", "hf_alpha"} {
		if !reg.Has(id) {
			t.Fatalf("expected built-in voice %q", id)
		}
	}
	if reg.Has("not_a_voice") {
		t.Fatal("unexpected voice reported as known")
	}
}

func TestRegistryLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	content := `voices:
  - id: "Claribel Dervla"
    engine: xtts
    description: XTTS studio speaker
  - id: af_heart
    engine: kokoro
    description: overridden
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write voices file: %v", err)
	}

	reg := NewRegistry()
	if err := reg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if !reg.Has("Claribel Dervla") {
		t.Fatal("expected loaded XTTS speaker to be known")
	}

	// Multi-word speaker names resolve in blend expressions too.
	profile, err := Resolve("Claribel Dervla", reg)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !profile.Single() || profile.Components[0].ID != "Claribel Dervla" {
		t.Fatalf("expected single-voice profile, got %v", profile)
	}
}

func TestRegistryLoadFileRejectsEmptyID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	if err := os.WriteFile(path, []byte("voices:\n  - engine: xtts\n"), 0o644); err != nil {
		t.Fatalf("failed to write voices file: %v", err)
	}
	if err := NewRegistry().LoadFile(path); err == nil {
		t.Fatal("expected error for entry with empty id")
	}
}
