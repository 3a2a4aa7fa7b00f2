package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "budget.warning_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// eventKeyRegex validates delay policy keys. Keys are host event names such as
// BAG_UPDATE or unit.aura.changed.
var eventKeyRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.:-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error", "critical"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Budget config
	errors = append(errors, c.validateBudget()...)

	// Validate Deferred config
	errors = append(errors, c.validateDeferred()...)

	// Validate Coalescer config
	errors = append(errors, c.validateCoalescer()...)

	// Validate Dirty config
	errors = append(errors, c.validateDirty()...)

	// Validate Tuner config
	errors = append(errors, c.validateTuner()...)

	// Validate State config
	errors = append(errors, c.validateState()...)

	// Validate Logging config
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateBudget validates the BudgetConfig
func (c *Config) validateBudget() []ValidationError {
	var errors []ValidationError
	b := c.Budget

	const minSampleSize = 1
	const maxSampleSize = 10000
	if b.SampleSize < minSampleSize || b.SampleSize > maxSampleSize {
		errors = append(errors, ValidationError{
			Field:   "budget.sample_size",
			Value:   b.SampleSize,
			Message: fmt.Sprintf("must be between %d and %d", minSampleSize, maxSampleSize),
		})
	}

	if b.TargetFrameMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.target_frame_ms",
			Value:   b.TargetFrameMs,
			Message: "must be positive",
		})
	}

	if b.WorkBudgetMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.work_budget_ms",
			Value:   b.WorkBudgetMs,
			Message: "must be positive",
		})
	}

	if b.WarningMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.warning_ms",
			Value:   b.WarningMs,
			Message: "must be non-negative",
		})
	}

	// The grey zone between warning and ceiling must not be inverted
	if b.CeilingMs < b.WarningMs {
		errors = append(errors, ValidationError{
			Field:   "budget.ceiling_ms",
			Value:   b.CeilingMs,
			Message: fmt.Sprintf("must be at least warning_ms (%.2f)", b.WarningMs),
		})
	}

	if b.SafetyMarginMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.safety_margin_ms",
			Value:   b.SafetyMarginMs,
			Message: "must be non-negative",
		})
	}

	if b.MaxBatchScale < 1 {
		errors = append(errors, ValidationError{
			Field:   "budget.max_batch_scale",
			Value:   b.MaxBatchScale,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateDeferred validates the DeferredConfig
func (c *Config) validateDeferred() []ValidationError {
	var errors []ValidationError

	if c.Deferred.MaxSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "deferred.max_size",
			Value:   c.Deferred.MaxSize,
			Message: "must be non-negative (0 for unbounded)",
		})
	}
	if c.Deferred.DefaultCostMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "deferred.default_cost_ms",
			Value:   c.Deferred.DefaultCostMs,
			Message: "must be non-negative",
		})
	}
	if c.Deferred.MaxPerTick < 0 {
		errors = append(errors, ValidationError{
			Field:   "deferred.max_per_tick",
			Value:   c.Deferred.MaxPerTick,
			Message: "must be non-negative (0 for unlimited)",
		})
	}

	return errors
}

// validateCoalescer validates the CoalescerConfig
func (c *Config) validateCoalescer() []ValidationError {
	var errors []ValidationError

	const maxDelayMs = 60_000
	if c.Coalescer.DefaultDelayMs < 0 || c.Coalescer.DefaultDelayMs > maxDelayMs {
		errors = append(errors, ValidationError{
			Field:   "coalescer.default_delay_ms",
			Value:   c.Coalescer.DefaultDelayMs,
			Message: fmt.Sprintf("must be between 0 and %dms", maxDelayMs),
		})
	}
	if c.Coalescer.CostPerSubscriberMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "coalescer.cost_per_subscriber_ms",
			Value:   c.Coalescer.CostPerSubscriberMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateDirty validates the DirtyConfig
func (c *Config) validateDirty() []ValidationError {
	var errors []ValidationError
	d := c.Dirty

	if d.MaxPerBatch < 1 {
		errors = append(errors, ValidationError{
			Field:   "dirty.max_per_batch",
			Value:   d.MaxPerBatch,
			Message: "must be at least 1",
		})
	}
	if d.ProcessDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "dirty.process_delay_ms",
			Value:   d.ProcessDelayMs,
			Message: "must be non-negative",
		})
	}
	if d.ProcessIntervalMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "dirty.process_interval_ms",
			Value:   d.ProcessIntervalMs,
			Message: "must be non-negative",
		})
	}
	if d.DecayIntervalMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "dirty.decay_interval_ms",
			Value:   d.DecayIntervalMs,
			Message: "must be non-negative (0 disables decay)",
		})
	}
	if d.DecayAgeMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "dirty.decay_age_ms",
			Value:   d.DecayAgeMs,
			Message: "must be non-negative",
		})
	}
	if d.DecayStep < 0 || d.DecayStep > 4 {
		errors = append(errors, ValidationError{
			Field:   "dirty.decay_step",
			Value:   d.DecayStep,
			Message: "must be between 0 and 4",
		})
	}
	if d.EstimatedCostMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "dirty.estimated_cost_ms",
			Value:   d.EstimatedCostMs,
			Message: "must be non-negative",
		})
	}
	if d.MaxQueued < 0 {
		errors = append(errors, ValidationError{
			Field:   "dirty.max_queued",
			Value:   d.MaxQueued,
			Message: "must be non-negative (0 for unbounded)",
		})
	}

	return errors
}

// validateTuner validates the TunerConfig
func (c *Config) validateTuner() []ValidationError {
	var errors []ValidationError
	t := c.Tuner

	if t.LearningRate <= 0 || t.LearningRate > 1 {
		errors = append(errors, ValidationError{
			Field:   "tuner.learning_rate",
			Value:   t.LearningRate,
			Message: "must be in (0, 1]",
		})
	}
	if t.RecencyWindowMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "tuner.recency_window_ms",
			Value:   t.RecencyWindowMs,
			Message: "must be positive",
		})
	}
	if t.PatternLength < 1 {
		errors = append(errors, ValidationError{
			Field:   "tuner.pattern_length",
			Value:   t.PatternLength,
			Message: "must be at least 1",
		})
	}
	if t.SequenceLength <= t.PatternLength {
		errors = append(errors, ValidationError{
			Field:   "tuner.sequence_length",
			Value:   t.SequenceLength,
			Message: fmt.Sprintf("must exceed pattern_length (%d)", t.PatternLength),
		})
	}
	if t.MaxPatterns < 1 {
		errors = append(errors, ValidationError{
			Field:   "tuner.max_patterns",
			Value:   t.MaxPatterns,
			Message: "must be at least 1",
		})
	}
	if t.RecommendIntervalMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "tuner.recommend_interval_ms",
			Value:   t.RecommendIntervalMs,
			Message: "must be non-negative (0 disables refresh)",
		})
	}
	if t.RecommendThreshold < 0 || t.RecommendThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "tuner.recommend_threshold",
			Value:   t.RecommendThreshold,
			Message: "must be between 0 and 1",
		})
	}
	if t.ApplyEvery < 0 {
		errors = append(errors, ValidationError{
			Field:   "tuner.apply_every",
			Value:   t.ApplyEvery,
			Message: "must be non-negative (0 disables write-back)",
		})
	}

	errors = append(errors, validatePolicy("tuner.default_delay", t.DefaultDelay)...)

	keys := make([]string, 0, len(t.DelayPolicies))
	for k := range t.DelayPolicies {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		field := "tuner.delay_policies." + k
		if !eventKeyRegex.MatchString(k) {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   k,
				Message: "key must start with a letter and contain only letters, digits, '_', '.', ':' or '-'",
			})
		}
		errors = append(errors, validatePolicy(field, t.DelayPolicies[k])...)
	}

	return errors
}

func validatePolicy(field string, p DelayPolicy) []ValidationError {
	var errors []ValidationError

	if p.MinMs < 0 {
		errors = append(errors, ValidationError{
			Field:   field + ".min_ms",
			Value:   p.MinMs,
			Message: "must be non-negative",
		})
	}
	if p.MaxMs < p.MinMs {
		errors = append(errors, ValidationError{
			Field:   field + ".max_ms",
			Value:   p.MaxMs,
			Message: fmt.Sprintf("must be at least min_ms (%.0f)", p.MinMs),
		})
	}
	if p.DefaultMs < p.MinMs || p.DefaultMs > p.MaxMs {
		errors = append(errors, ValidationError{
			Field:   field + ".default_ms",
			Value:   p.DefaultMs,
			Message: fmt.Sprintf("must be between min_ms (%.0f) and max_ms (%.0f)", p.MinMs, p.MaxMs),
		})
	}

	return errors
}

// validateState validates the StateConfig
func (c *Config) validateState() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStateBackends(), c.State.Backend) {
		errors = append(errors, ValidationError{
			Field:   "state.backend",
			Value:   c.State.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStateBackends(), ", ")),
		})
	}
	if c.State.SaveIntervalSec < 0 {
		errors = append(errors, ValidationError{
			Field:   "state.save_interval_sec",
			Value:   c.State.SaveIntervalSec,
			Message: "must be non-negative (0 disables periodic saves)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
