package config

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// GetAllSettings returns a map of the dynamic settings currently loaded in
// memory, for the health/introspection endpoints.
func GetAllSettings() map[string]any {
	if Global == nil {
		return map[string]any{}
	}
	return map[string]any{
		"app_debug":            Global.App.Debug,
		"app_version":          Global.App.Version,
		"db_driver":            Global.Database.Driver,
		"valkey_enabled":       Global.Database.ValkeyEnabled,
		"gateway_base_url":     Global.Gateway.BaseURL,
		"gateway_instance":     Global.Gateway.DefaultInstance,
		"phone_country_code":   Global.Gateway.CountryCode,
		"worker_pool_size":     Global.WorkerPool.Size,
		"worker_queue_size":    Global.WorkerPool.QueueSize,
		"send_timeout_seconds": Global.Gateway.SendTimeoutSecs,
	}
}

// Helpers. Values come through viper so env vars, the optional .env file
// and anything bound by the CLI layer share one namespace.
func getEnv(key, fallback string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := viper.GetString(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := viper.GetString(key); v != "" {
		vLower := strings.ToLower(v)
		return vLower == "1" || vLower == "true" || vLower == "yes" || vLower == "on"
	}
	return fallback
}
