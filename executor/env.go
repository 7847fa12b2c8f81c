package main

import (
	"os"
	"strconv"
)

// Flag defaults may be overridden by GOZERO_-prefixed environment variables,
// e.g. GOZERO_WORKERS=4.
const envPrefix = "GOZERO_"

func getEnvOrDefault(key, defaultVal string) string {
	if val, ok := os.LookupEnv(envPrefix + key); ok && val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if n, err := strconv.Atoi(getEnvOrDefault(key, "")); err == nil {
		return n
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if b, err := strconv.ParseBool(getEnvOrDefault(key, "")); err == nil {
		return b
	}
	return defaultVal
}
