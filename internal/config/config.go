// Package config loads operational configuration for the FaaS control plane
// from the environment, following the teacher's getEnv-default pattern
// instead of pulling in a config-file library.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/vortex/faas-engine/internal/store"
)

// Config holds every collaborator's settings, per spec.md §6.4.
type Config struct {
	ServerAddr  string
	MetricsAddr string
	RedisAddr   string
	MinIO       store.BlobStoreConfig

	InterpreterPath string

	MaxMachineInstances int64
	MaxUserConcurrent   int64
	MaxUserCPUMs        int64
	MaxWallMs           int64

	QuotaResetInterval time.Duration
}

// Load reads Config from the environment, falling back to spec.md §4.1's
// compile-time defaults.
func Load() Config {
	return Config{
		ServerAddr:  getEnv("SERVER_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		MinIO: store.BlobStoreConfig{
			Endpoint:        getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretAccessKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			BucketName:      getEnv("MINIO_BUCKET", "vortex-functions"),
			UseSSL:          getEnvBool("MINIO_USE_SSL", false),
		},
		InterpreterPath: getEnv("INTERPRETER_PATH", "./vortex-runtime"),

		MaxMachineInstances: getEnvInt64("MAX_MACHINE_INSTANCES", 50),
		MaxUserConcurrent:   getEnvInt64("MAX_USER_CONCURRENT", 10),
		MaxUserCPUMs:        getEnvInt64("MAX_USER_CPU_MS", 7_200_000),
		MaxWallMs:           getEnvInt64("MAX_WALL_MS", 15_000),

		QuotaResetInterval: getEnvDuration("QUOTA_RESET_INTERVAL", time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
