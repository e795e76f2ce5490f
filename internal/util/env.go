package util

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// GetEnv returns the environment variable value or a default.
func GetEnv(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// GetEnvAsInt returns the environment variable parsed as int or a default.
func GetEnvAsInt(key string, defaultVal int) int {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	val, err := strconv.Atoi(strVal)
	if err != nil {
		log.Error().Str("key", key).Str("value", strVal).Msg("Failed to parse env as int, using default")
		return defaultVal
	}
	return val
}

// GetEnvAsBool returns the environment variable parsed as bool or a default.
func GetEnvAsBool(key string, defaultVal bool) bool {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	val, err := strconv.ParseBool(strVal)
	if err != nil {
		log.Error().Str("key", key).Str("value", strVal).Msg("Failed to parse env as bool, using default")
		return defaultVal
	}
	return val
}

// GetEnvAsDuration returns the environment variable parsed as a
// time.Duration (e.g. "5s", "100ms") or a default.
func GetEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	val, err := time.ParseDuration(strVal)
	if err != nil {
		log.Error().Str("key", key).Str("value", strVal).Msg("Failed to parse env as duration, using default")
		return defaultVal
	}
	return val
}

// GetEnvAsStringSlice returns the environment variable split on commas or
// a default. Empty elements are dropped.
func GetEnvAsStringSlice(key string, defaultVal []string) []string {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	parts := strings.Split(strVal, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
