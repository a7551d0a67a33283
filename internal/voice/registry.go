package voice

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Entry describes one base voice known to a synthesis backend.
type Entry struct {
	ID          string `yaml:"id"`
	Engine      string `yaml:"engine,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Registry is the set of voice identifiers a blend expression may reference.
// It is read-only after initialization and shared across driver workers.
type Registry struct {
	entries map[string]Entry
}

// Built-in Kokoro base voices. Additional voices (including XTTS speaker
// names) come from a voices file.
var builtinVoices = []Entry{
	{ID: "af_heart", Engine: "kokoro", Description: "American female, warm"},
	{ID: "af_bella", Engine: "kokoro", Description: "American female"},
	{ID: "af_nicole", Engine: "kokoro", Description: "American female, soft"},
	{ID: "af_sarah", Engine: "kokoro", Description: "American female"},
	{ID: "am_adam", Engine: "kokoro", Description: "American male"},
	{ID: "am_michael", Engine: "kokoro", Description: "American male, deep"},
	{ID: "bf_emma", Engine: "kokoro", Description: "British female"},
	{ID: "bf_isabella", Engine: "kokoro", Description: "British female"},
	{ID: "bm_george", Engine: "kokoro", Description: "British male"},
	{ID: "bm_lewis", Engine: "kokoro", Description: "British male, narrator"},
	{ID: "hf_alpha", Engine: "kokoro", Description: "Hindi female"},
}

// NewRegistry returns a registry seeded with the built-in voice set.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Entry, len(builtinVoices))}
	for _, e := range builtinVoices {
		r.entries[e.ID] = e
	}
	return r
}

type voicesFile struct {
	Voices []Entry `yaml:"voices"`
}

// LoadFile merges additional voices from a yaml file into the registry.
// Entries with an ID already present override the built-in definition.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read voices file: %w", err)
	}
	var vf voicesFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return fmt.Errorf("parse voices file: %w", err)
	}
	for _, e := range vf.Voices {
		if e.ID == "" {
			return fmt.Errorf("voices file: entry with empty id")
		}
		r.entries[e.ID] = e
	}
	return nil
}

// Has reports whether id is a known voice.
func (r *Registry) Has(id string) bool {
	_, ok := r.entries[id]
	return ok
}

// Known returns all voice identifiers in sorted order.
func (r *Registry) Known() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
