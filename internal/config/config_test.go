package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Verify default budget config
	if cfg.Budget.SampleSize != 120 {
		t.Errorf("Budget.SampleSize = %d, want 120", cfg.Budget.SampleSize)
	}
	if cfg.Budget.TargetFrameMs != 16.67 {
		t.Errorf("Budget.TargetFrameMs = %f, want 16.67", cfg.Budget.TargetFrameMs)
	}
	if cfg.Budget.WarningMs >= cfg.Budget.CeilingMs {
		t.Errorf("Budget.WarningMs (%f) should be below CeilingMs (%f)", cfg.Budget.WarningMs, cfg.Budget.CeilingMs)
	}

	// Verify default dirty config
	if cfg.Dirty.MaxPerBatch != 10 {
		t.Errorf("Dirty.MaxPerBatch = %d, want 10", cfg.Dirty.MaxPerBatch)
	}
	if !cfg.Dirty.PriorityOrdering {
		t.Error("Dirty.PriorityOrdering should be true by default")
	}

	// Verify default tuner config
	if !cfg.Tuner.Enabled {
		t.Error("Tuner.Enabled should be true by default")
	}
	if cfg.Tuner.LearningRate != 0.1 {
		t.Errorf("Tuner.LearningRate = %f, want 0.1", cfg.Tuner.LearningRate)
	}
	if cfg.Tuner.ApplyPriority {
		t.Error("Tuner.ApplyPriority should be false by default")
	}

	// Verify default state config
	if cfg.State.Backend != "file" {
		t.Errorf("State.Backend = %q, want %q", cfg.State.Backend, "file")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"coalescer default delay", cfg.Coalescer.DefaultDelay(), 50 * time.Millisecond},
		{"dirty process interval", cfg.Dirty.ProcessInterval(), 16 * time.Millisecond},
		{"dirty decay interval", cfg.Dirty.DecayInterval(), time.Second},
		{"dirty decay age", cfg.Dirty.DecayAge(), 2 * time.Second},
		{"tuner recency window", cfg.Tuner.RecencyWindow(), time.Minute},
		{"tuner recommend interval", cfg.Tuner.RecommendInterval(), 5 * time.Second},
		{"state save interval", cfg.State.SaveInterval(), 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestDelayPolicy(t *testing.T) {
	p := DelayPolicy{MinMs: 10, MaxMs: 100, DefaultMs: 40}

	if got := p.Default(); got != 40*time.Millisecond {
		t.Errorf("Default() = %v, want 40ms", got)
	}
	if got := p.Clamp(5 * time.Millisecond); got != 10*time.Millisecond {
		t.Errorf("Clamp(5ms) = %v, want 10ms", got)
	}
	if got := p.Clamp(500 * time.Millisecond); got != 100*time.Millisecond {
		t.Errorf("Clamp(500ms) = %v, want 100ms", got)
	}
	if got := p.Clamp(50 * time.Millisecond); got != 50*time.Millisecond {
		t.Errorf("Clamp(50ms) = %v, want 50ms", got)
	}

	// A default outside the range is pulled back in
	bad := DelayPolicy{MinMs: 10, MaxMs: 20, DefaultMs: 80}
	if got := bad.Default(); got != 20*time.Millisecond {
		t.Errorf("Default() = %v, want 20ms", got)
	}
}

func TestTunerConfig_PolicyFor(t *testing.T) {
	cfg := Default()
	cfg.Tuner.DelayPolicies = map[string]DelayPolicy{
		"bag_update": {MinMs: 20, MaxMs: 120, DefaultMs: 60},
	}

	// viper lowercases map keys, so lookups must be case-insensitive
	if got := cfg.Tuner.PolicyFor("BAG_UPDATE"); got.DefaultMs != 60 {
		t.Errorf("PolicyFor(BAG_UPDATE).DefaultMs = %f, want 60", got.DefaultMs)
	}
	if got := cfg.Tuner.PolicyFor("UNIT_AURA"); got != cfg.Tuner.DefaultDelay {
		t.Errorf("PolicyFor(UNIT_AURA) = %+v, want default %+v", got, cfg.Tuner.DefaultDelay)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		result := ConfigDir()
		expected := "/custom/config/pacer"
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		result := ConfigDir()

		// Should be based on home directory
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "pacer")
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	result := ConfigFile()
	expected := "/custom/config/pacer/config.yaml"
	if result != expected {
		t.Errorf("ConfigFile() = %q, want %q", result, expected)
	}
}

func TestStateConfig_ResolveDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	cfg := Default()
	if got := cfg.State.ResolveDir(); got != "/custom/config/pacer/state" {
		t.Errorf("ResolveDir() = %q, want default under config dir", got)
	}

	cfg.State.Dir = "/var/lib/pacer"
	if got := cfg.State.ResolveDir(); got != "/var/lib/pacer" {
		t.Errorf("ResolveDir() = %q, want %q", got, "/var/lib/pacer")
	}
}

func TestGet(t *testing.T) {
	// Set defaults in viper first (normally done by cmd init)
	SetDefaults()

	// Get() should return defaults when no config file exists
	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}

	if cfg.Dirty.MaxPerBatch != 10 {
		t.Errorf("Get().Dirty.MaxPerBatch = %d, want 10", cfg.Dirty.MaxPerBatch)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
dirty:
  max_per_batch: 5
tuner:
  delay_policies:
    BAG_UPDATE:
      min_ms: 10
      max_ms: 150
      default_ms: 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Dirty.MaxPerBatch != 5 {
		t.Errorf("Dirty.MaxPerBatch = %d, want 5", cfg.Dirty.MaxPerBatch)
	}
	// Unset values keep their defaults
	if cfg.Budget.SampleSize != 120 {
		t.Errorf("Budget.SampleSize = %d, want 120", cfg.Budget.SampleSize)
	}
	if got := cfg.Tuner.PolicyFor("BAG_UPDATE"); got.MaxMs != 150 {
		t.Errorf("PolicyFor(BAG_UPDATE).MaxMs = %f, want 150", got.MaxMs)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("dirty:\n  max_per_batch: 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if verrs[0].Field != "dirty.max_per_batch" {
		t.Errorf("Field = %q, want %q", verrs[0].Field, "dirty.max_per_batch")
	}
}
