package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete pacer configuration
type Config struct {
	Budget    BudgetConfig    `mapstructure:"budget"`
	Deferred  DeferredConfig  `mapstructure:"deferred"`
	Coalescer CoalescerConfig `mapstructure:"coalescer"`
	Dirty     DirtyConfig     `mapstructure:"dirty"`
	Tuner     TunerConfig     `mapstructure:"tuner"`
	State     StateConfig     `mapstructure:"state"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BudgetConfig controls frame-time measurement and admission thresholds
type BudgetConfig struct {
	// SampleSize is the number of ticks kept in the rolling window (default: 120)
	SampleSize int `mapstructure:"sample_size"`
	// TargetFrameMs is the frame time the host aims for; the rolling average is
	// compared against it when scaling batch sizes (default: 16.67, i.e. 60 fps)
	TargetFrameMs float64 `mapstructure:"target_frame_ms"`
	// WorkBudgetMs is how much of each tick the scheduler may spend (default: 8)
	WorkBudgetMs float64 `mapstructure:"work_budget_ms"`
	// WarningMs: below this much elapsed work every request is admitted (default: 4)
	WarningMs float64 `mapstructure:"warning_ms"`
	// CeilingMs: above this much elapsed work only Critical is admitted (default: 12)
	CeilingMs float64 `mapstructure:"ceiling_ms"`
	// SafetyMarginMs is added to every cost estimate in the grey zone (default: 1)
	SafetyMarginMs float64 `mapstructure:"safety_margin_ms"`
	// MaxBatchScale caps how far AdaptiveBatchSize may grow a base size (default: 2)
	MaxBatchScale float64 `mapstructure:"max_batch_scale"`
}

// DeferredConfig controls the deferred work queue
type DeferredConfig struct {
	// MaxSize bounds the queue; overflow evicts the lowest priority item (default: 256)
	MaxSize int `mapstructure:"max_size"`
	// DefaultCostMs is the cost estimate for items pushed without one (default: 0.5)
	DefaultCostMs float64 `mapstructure:"default_cost_ms"`
	// MaxPerTick caps how many items one drain may run; 0 means budget-limited only
	MaxPerTick int `mapstructure:"max_per_tick"`
}

// CoalescerConfig controls event coalescing
type CoalescerConfig struct {
	// DefaultDelayMs is used when Register is called with a zero delay (default: 50)
	DefaultDelayMs int `mapstructure:"default_delay_ms"`
	// CostPerSubscriberMs is the estimated dispatch cost per subscriber (default: 0.5)
	CostPerSubscriberMs float64 `mapstructure:"cost_per_subscriber_ms"`
}

// DirtyConfig controls the dirty-entry tracker
type DirtyConfig struct {
	// MaxPerBatch is the base number of entries processed per pass (default: 10)
	MaxPerBatch int `mapstructure:"max_per_batch"`
	// PriorityOrdering sorts the queue by priority before each pass (default: true)
	PriorityOrdering bool `mapstructure:"priority_ordering"`
	// ProcessDelayMs is the delay before an automatically scheduled pass (default: 0)
	ProcessDelayMs int `mapstructure:"process_delay_ms"`
	// ProcessIntervalMs is the base interval between follow-up passes (default: 16)
	ProcessIntervalMs int `mapstructure:"process_interval_ms"`
	// DecayIntervalMs is how often priority decay runs (default: 1000)
	DecayIntervalMs int `mapstructure:"decay_interval_ms"`
	// DecayAgeMs is how long an entry waits before it starts decaying (default: 2000)
	DecayAgeMs int `mapstructure:"decay_age_ms"`
	// DecayStep is subtracted from a waiting entry's priority each decay run (default: 0.5)
	DecayStep float64 `mapstructure:"decay_step"`
	// EstimatedCostMs is the per-entry update cost estimate (default: 1)
	EstimatedCostMs float64 `mapstructure:"estimated_cost_ms"`
	// MaxQueued bounds the dirty queue (default: 1024)
	MaxQueued int `mapstructure:"max_queued"`
}

// DelayPolicy bounds the learned delay for one event key
type DelayPolicy struct {
	MinMs     float64 `mapstructure:"min_ms" json:"min_ms" yaml:"min_ms"`
	MaxMs     float64 `mapstructure:"max_ms" json:"max_ms" yaml:"max_ms"`
	DefaultMs float64 `mapstructure:"default_ms" json:"default_ms" yaml:"default_ms"`
}

// TunerConfig controls the adaptive tuner
type TunerConfig struct {
	// Enabled attaches the tuner to the scheduler (default: true)
	Enabled bool `mapstructure:"enabled"`
	// LearningRate is the gradient descent step size (default: 0.1)
	LearningRate float64 `mapstructure:"learning_rate"`
	// Seed initializes the network weights; 0 picks a time-based seed
	Seed uint64 `mapstructure:"seed"`
	// RecencyWindowMs is the window used to normalize event recency (default: 60000)
	RecencyWindowMs int `mapstructure:"recency_window_ms"`
	// SequenceLength bounds the recent-event buffer (default: 32)
	SequenceLength int `mapstructure:"sequence_length"`
	// PatternLength is the signature length used for next-event prediction (default: 3)
	PatternLength int `mapstructure:"pattern_length"`
	// MaxPatterns bounds the pattern library (default: 512)
	MaxPatterns int `mapstructure:"max_patterns"`
	// RecommendIntervalMs is how often predictions are refreshed (default: 5000)
	RecommendIntervalMs int `mapstructure:"recommend_interval_ms"`
	// RecommendThreshold is the probability above which a key is recommended (default: 0.5)
	RecommendThreshold float64 `mapstructure:"recommend_threshold"`
	// ApplyEvery writes learned delays back after this many observations (default: 20)
	ApplyEvery int `mapstructure:"apply_every"`
	// ApplyPriority lets the tuner rewrite coalescer priorities (default: false)
	ApplyPriority bool `mapstructure:"apply_priority"`
	// DefaultDelay is the fallback policy for keys without their own entry
	DefaultDelay DelayPolicy `mapstructure:"default_delay"`
	// DelayPolicies maps event keys to their delay bounds
	DelayPolicies map[string]DelayPolicy `mapstructure:"delay_policies"`
}

// StateConfig controls persistence of learned tuner state
type StateConfig struct {
	// Backend is "file" or "badger" (default: "file")
	Backend string `mapstructure:"backend"`
	// Dir is where state is stored; empty means <config dir>/state
	Dir string `mapstructure:"dir"`
	// SaveIntervalSec is the periodic save interval; 0 disables periodic saves (default: 300)
	SaveIntervalSec int `mapstructure:"save_interval_sec"`
}

// LoggingConfig controls diagnostic output
type LoggingConfig struct {
	// Enabled turns the file logger on (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is one of debug, info, warn, error, critical (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where pacer.log is written; empty means <config dir>
	Dir string `mapstructure:"dir"`
	// MaxSizeMB rotates pacer.log once it would exceed this size; 0 never rotates (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Budget: BudgetConfig{
			SampleSize:     120,
			TargetFrameMs:  16.67,
			WorkBudgetMs:   8,
			WarningMs:      4,
			CeilingMs:      12,
			SafetyMarginMs: 1,
			MaxBatchScale:  2,
		},
		Deferred: DeferredConfig{
			MaxSize:       256,
			DefaultCostMs: 0.5,
			MaxPerTick:    0,
		},
		Coalescer: CoalescerConfig{
			DefaultDelayMs:      50,
			CostPerSubscriberMs: 0.5,
		},
		Dirty: DirtyConfig{
			MaxPerBatch:       10,
			PriorityOrdering:  true,
			ProcessDelayMs:    0,
			ProcessIntervalMs: 16,
			DecayIntervalMs:   1000,
			DecayAgeMs:        2000,
			DecayStep:         0.5,
			EstimatedCostMs:   1,
			MaxQueued:         1024,
		},
		Tuner: TunerConfig{
			Enabled:             true,
			LearningRate:        0.1,
			Seed:                0,
			RecencyWindowMs:     60000,
			SequenceLength:      32,
			PatternLength:       3,
			MaxPatterns:         512,
			RecommendIntervalMs: 5000,
			RecommendThreshold:  0.5,
			ApplyEvery:          20,
			ApplyPriority:       false,
			DefaultDelay: DelayPolicy{
				MinMs:     0,
				MaxMs:     200,
				DefaultMs: 50,
			},
			DelayPolicies: map[string]DelayPolicy{},
		},
		State: StateConfig{
			Backend:         "file",
			Dir:             "",
			SaveIntervalSec: 300,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// ms converts a millisecond count into a time.Duration.
func ms(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

// DefaultDelay returns the coalescer default delay as a time.Duration
func (c *CoalescerConfig) DefaultDelay() time.Duration {
	return ms(float64(c.DefaultDelayMs))
}

// ProcessDelay returns the auto-process delay as a time.Duration
func (c *DirtyConfig) ProcessDelay() time.Duration {
	return ms(float64(c.ProcessDelayMs))
}

// ProcessInterval returns the follow-up pass interval as a time.Duration
func (c *DirtyConfig) ProcessInterval() time.Duration {
	return ms(float64(c.ProcessIntervalMs))
}

// DecayInterval returns the decay interval as a time.Duration
func (c *DirtyConfig) DecayInterval() time.Duration {
	return ms(float64(c.DecayIntervalMs))
}

// DecayAge returns the decay age threshold as a time.Duration
func (c *DirtyConfig) DecayAge() time.Duration {
	return ms(float64(c.DecayAgeMs))
}

// RecencyWindow returns the recency normalization window as a time.Duration
func (c *TunerConfig) RecencyWindow() time.Duration {
	return ms(float64(c.RecencyWindowMs))
}

// RecommendInterval returns the recommendation refresh interval as a time.Duration
func (c *TunerConfig) RecommendInterval() time.Duration {
	return ms(float64(c.RecommendIntervalMs))
}

// PolicyFor returns the delay policy for key, falling back to DefaultDelay.
func (c *TunerConfig) PolicyFor(key string) DelayPolicy {
	if p, ok := c.DelayPolicies[strings.ToLower(key)]; ok {
		return p
	}
	if p, ok := c.DelayPolicies[key]; ok {
		return p
	}
	return c.DefaultDelay
}

// Min returns the lower bound as a time.Duration
func (p DelayPolicy) Min() time.Duration { return ms(p.MinMs) }

// Max returns the upper bound as a time.Duration
func (p DelayPolicy) Max() time.Duration { return ms(p.MaxMs) }

// Default returns the fallback delay as a time.Duration, clamped to [Min, Max]
func (p DelayPolicy) Default() time.Duration { return p.Clamp(ms(p.DefaultMs)) }

// Clamp bounds d to the policy range.
func (p DelayPolicy) Clamp(d time.Duration) time.Duration {
	if d < p.Min() {
		return p.Min()
	}
	if d > p.Max() {
		return p.Max()
	}
	return d
}

// SaveInterval returns the periodic save interval as a time.Duration
func (c *StateConfig) SaveInterval() time.Duration {
	return time.Duration(c.SaveIntervalSec) * time.Second
}

// ResolveDir returns the state directory, defaulting to <config dir>/state.
func (c *StateConfig) ResolveDir() string {
	if c.Dir == "" {
		return filepath.Join(ConfigDir(), "state")
	}
	return expandHome(c.Dir)
}

// ResolveDir returns the log directory, defaulting to the config dir.
func (c *LoggingConfig) ResolveDir() string {
	if c.Dir == "" {
		return ConfigDir()
	}
	return expandHome(c.Dir)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	// Budget defaults
	v.SetDefault("budget.sample_size", defaults.Budget.SampleSize)
	v.SetDefault("budget.target_frame_ms", defaults.Budget.TargetFrameMs)
	v.SetDefault("budget.work_budget_ms", defaults.Budget.WorkBudgetMs)
	v.SetDefault("budget.warning_ms", defaults.Budget.WarningMs)
	v.SetDefault("budget.ceiling_ms", defaults.Budget.CeilingMs)
	v.SetDefault("budget.safety_margin_ms", defaults.Budget.SafetyMarginMs)
	v.SetDefault("budget.max_batch_scale", defaults.Budget.MaxBatchScale)

	// Deferred queue defaults
	v.SetDefault("deferred.max_size", defaults.Deferred.MaxSize)
	v.SetDefault("deferred.default_cost_ms", defaults.Deferred.DefaultCostMs)
	v.SetDefault("deferred.max_per_tick", defaults.Deferred.MaxPerTick)

	// Coalescer defaults
	v.SetDefault("coalescer.default_delay_ms", defaults.Coalescer.DefaultDelayMs)
	v.SetDefault("coalescer.cost_per_subscriber_ms", defaults.Coalescer.CostPerSubscriberMs)

	// Dirty tracker defaults
	v.SetDefault("dirty.max_per_batch", defaults.Dirty.MaxPerBatch)
	v.SetDefault("dirty.priority_ordering", defaults.Dirty.PriorityOrdering)
	v.SetDefault("dirty.process_delay_ms", defaults.Dirty.ProcessDelayMs)
	v.SetDefault("dirty.process_interval_ms", defaults.Dirty.ProcessIntervalMs)
	v.SetDefault("dirty.decay_interval_ms", defaults.Dirty.DecayIntervalMs)
	v.SetDefault("dirty.decay_age_ms", defaults.Dirty.DecayAgeMs)
	v.SetDefault("dirty.decay_step", defaults.Dirty.DecayStep)
	v.SetDefault("dirty.estimated_cost_ms", defaults.Dirty.EstimatedCostMs)
	v.SetDefault("dirty.max_queued", defaults.Dirty.MaxQueued)

	// Tuner defaults
	v.SetDefault("tuner.enabled", defaults.Tuner.Enabled)
	v.SetDefault("tuner.learning_rate", defaults.Tuner.LearningRate)
	v.SetDefault("tuner.seed", defaults.Tuner.Seed)
	v.SetDefault("tuner.recency_window_ms", defaults.Tuner.RecencyWindowMs)
	v.SetDefault("tuner.sequence_length", defaults.Tuner.SequenceLength)
	v.SetDefault("tuner.pattern_length", defaults.Tuner.PatternLength)
	v.SetDefault("tuner.max_patterns", defaults.Tuner.MaxPatterns)
	v.SetDefault("tuner.recommend_interval_ms", defaults.Tuner.RecommendIntervalMs)
	v.SetDefault("tuner.recommend_threshold", defaults.Tuner.RecommendThreshold)
	v.SetDefault("tuner.apply_every", defaults.Tuner.ApplyEvery)
	v.SetDefault("tuner.apply_priority", defaults.Tuner.ApplyPriority)
	v.SetDefault("tuner.default_delay.min_ms", defaults.Tuner.DefaultDelay.MinMs)
	v.SetDefault("tuner.default_delay.max_ms", defaults.Tuner.DefaultDelay.MaxMs)
	v.SetDefault("tuner.default_delay.default_ms", defaults.Tuner.DefaultDelay.DefaultMs)
	v.SetDefault("tuner.delay_policies", defaults.Tuner.DelayPolicies)

	// State defaults
	v.SetDefault("state.backend", defaults.State.Backend)
	v.SetDefault("state.dir", defaults.State.Dir)
	v.SetDefault("state.save_interval_sec", defaults.State.SaveIntervalSec)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return loadFrom(viper.GetViper())
}

// LoadFile reads and validates a single config file using a private viper
// instance, leaving the global configuration untouched.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pacer")
	}
	// Fall back to ~/.config/pacer
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pacer"
	}
	return filepath.Join(home, ".config", "pacer")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidStateBackends returns the list of supported persistence backends
func ValidStateBackends() []string {
	return []string{"file", "badger"}
}
