package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages ledger feature toggles.
// A feature can be rolled out to a share of schools, and single schools can
// be forced on or off while a rollout is in progress.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// schoolID -> feature -> enabled
	schoolOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100). Schools are bucketed by a hash of their id.
	RolloutPercent int
}

// Predefined feature flag names.
const (
	FeatureLateFeeAccrual      = "ledger.late_fee_accrual"     // Scheduled late fee sweep
	FeatureRecurringGeneration = "ledger.recurring_generation" // Scheduled recurring charges
	FeatureStatementCache      = "ledger.statement_cache"      // Redis statement cache
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:        make(map[string]*Feature),
		schoolOverrides: make(map[string]map[string]bool),
	}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureLateFeeAccrual] = &Feature{
		Name:           FeatureLateFeeAccrual,
		Description:    "Accrue late fees on overdue charges once per month",
		Enabled:        true,
		RolloutPercent: 100,
	}
	ff.features[FeatureRecurringGeneration] = &Feature{
		Name:           FeatureRecurringGeneration,
		Description:    "Issue the current period charge of recurring concepts",
		Enabled:        true,
		RolloutPercent: 100,
	}
	ff.features[FeatureStatementCache] = &Feature{
		Name:           FeatureStatementCache,
		Description:    "Serve account statements through the Redis cache",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_LEDGER_LATE_FEE_ACCRUAL=false
// Example: FEATURE_LEDGER_RECURRING_GENERATION=25 (25% of schools)
//
// Per-school overrides: FEATURE_<NAME>_SCHOOLS_ON / _SCHOOLS_OFF hold comma
// separated school ids.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
			} else if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}

		for _, id := range getEnvStringSlice(envKey+"_SCHOOLS_ON", nil) {
			ff.setOverride(id, name, true)
		}
		for _, id := range getEnvStringSlice(envKey+"_SCHOOLS_OFF", nil) {
			ff.setOverride(id, name, false)
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "ledger.late_fee_accrual" -> "FEATURE_LEDGER_LATE_FEE_ACCRUAL"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for a school. An empty school id
// asks whether the feature is on at all.
func (ff *FeatureFlags) IsEnabled(featureName, schoolID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if schoolID != "" {
		if overrides, ok := ff.schoolOverrides[schoolID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && schoolID != "" {
		return isInRollout(schoolID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout keeps a school in the same bucket across restarts.
func isInRollout(schoolID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(schoolID))
	return int(h.Sum32()%100) < percent
}

// ForSchool returns a predicate suited to per-school filtering in jobs.
func (ff *FeatureFlags) ForSchool(featureName string) func(schoolID string) bool {
	return func(schoolID string) bool {
		return ff.IsEnabled(featureName, schoolID)
	}
}

// SetSchoolOverride forces a feature on or off for one school.
func (ff *FeatureFlags) SetSchoolOverride(schoolID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.setOverride(schoolID, featureName, enabled)
}

func (ff *FeatureFlags) setOverride(schoolID, featureName string, enabled bool) {
	if _, ok := ff.schoolOverrides[schoolID]; !ok {
		ff.schoolOverrides[schoolID] = make(map[string]bool)
	}
	ff.schoolOverrides[schoolID][featureName] = enabled
}

// ClearSchoolOverrides removes all overrides for a school.
func (ff *FeatureFlags) ClearSchoolOverrides(schoolID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.schoolOverrides, schoolID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
