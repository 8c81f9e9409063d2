package flags

import "os"

// Flag keys form a closed enumeration. Unknown keys always resolve to false.
const (
	KeyModuleEnabled        = "module-enabled"
	KeyNegotiationEnabled   = "negotiation-enabled"
	KeyDashboardEnabled     = "dashboard-enabled"
	KeyConfigEnabled        = "config-enabled"
	KeyRealTimeEnabled      = "real-time-enabled"
	KeyAnalyticsEnabled     = "analytics-enabled"
	KeyEscalationEnabled    = "escalation-enabled"
	KeySafeMode             = "safe-mode"
	KeyFallbackEnabled      = "fallback-enabled"
	KeyErrorRecoveryEnabled = "error-recovery-enabled"
	KeyProviderEvents       = "provider-events-enabled"
	KeyProviderStore        = "provider-store-enabled"
)

// defaults are deliberately conservative: the optional AI negotiation module
// starts disabled and in safe mode until an operator turns it on.
var defaults = map[string]bool{
	KeyModuleEnabled:        false,
	KeyNegotiationEnabled:   false,
	KeyDashboardEnabled:     true,
	KeyConfigEnabled:        true,
	KeyRealTimeEnabled:      false,
	KeyAnalyticsEnabled:     true,
	KeyEscalationEnabled:    true,
	KeySafeMode:             true,
	KeyFallbackEnabled:      true,
	KeyErrorRecoveryEnabled: true,
	KeyProviderEvents:       true,
	KeyProviderStore:        true,
}

// protected keys can never be flipped by the bulk DisableAll/EnableAll operations.
var protected = map[string]bool{
	KeyConfigEnabled:   true,
	KeySafeMode:        true,
	KeyFallbackEnabled: true,
}

// envOverrides maps the subset of keys that accept environment overrides to
// their variable names. Overrides take precedence over the persisted snapshot
// and are consulted once, at startup.
var envOverrides = map[string]string{
	KeyModuleEnabled:      "FEATURE_MODULE_ENABLED",
	KeyNegotiationEnabled: "FEATURE_NEGOTIATION_ENABLED",
	KeyDashboardEnabled:   "FEATURE_DASHBOARD_ENABLED",
	KeyRealTimeEnabled:    "FEATURE_REALTIME_ENABLED",
	KeyAnalyticsEnabled:   "FEATURE_ANALYTICS_ENABLED",
	KeySafeMode:           "FEATURE_SAFE_MODE",
}

// Keys returns every known flag key.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	return keys
}

// IsKnown reports whether key belongs to the closed enumeration.
func IsKnown(key string) bool {
	_, ok := defaults[key]
	return ok
}

// IsProtected reports whether key is exempt from bulk toggles.
func IsProtected(key string) bool {
	return protected[key]
}

func readEnvOverrides() map[string]bool {
	out := make(map[string]bool)
	for key, envName := range envOverrides {
		raw, exists := os.LookupEnv(envName)
		if !exists {
			continue
		}
		switch raw {
		case "true", "1":
			out[key] = true
		case "false", "0":
			out[key] = false
		}
	}
	return out
}
