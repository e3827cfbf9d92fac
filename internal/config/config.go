package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	DatabaseURL           string
	Migrate               bool
	StoreOpTimeout        time.Duration
	LockTimeout           time.Duration
	EmployeeIDPrefix      string
	Timezone              string
	PBKDF2Iterations      int
	ScanCooldown          time.Duration
	ScanRequiredFrames    int
	ReportExcludeWeekends bool
	ReportExcludeHolidays bool
	ReportInferAbsent     bool
	LeaveSkipWeekends     bool
	RedisURL              string
	LogLevel              string
	LogFormat             string
	RateLimitPerMinute    int
	RateLimitBurst        int
	AdminUser             string
	// AdminPasswordHash is "<salt-hex>:<hash-hex>"; empty disables admin routes.
	AdminPasswordHash     string
}

// Load reads configuration from the environment. A .env file in the working
// directory is read first; variables already set take precedence.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:                  readString("PORT", "8086"),
		DatabaseURL:           os.Getenv("DB_DSN"),
		Migrate:               readBool("DB_MIGRATE", true),
		StoreOpTimeout:        readDurationMillis("STORE_OP_TIMEOUT_MS", 3000),
		LockTimeout:           readDurationMillis("LOCK_TIMEOUT_MS", 2000),
		EmployeeIDPrefix:      readString("EMPLOYEE_ID_PREFIX", "ALLY"),
		Timezone:              readString("TIMEZONE", "Local"),
		PBKDF2Iterations:      readInt("PBKDF2_ITERATIONS", 100000),
		ScanCooldown:          readDurationSeconds("SCAN_COOLDOWN_SECONDS", 3),
		ScanRequiredFrames:    readInt("SCAN_REQUIRED_FRAMES", 1),
		ReportExcludeWeekends: readBool("REPORT_EXCLUDE_WEEKENDS", true),
		ReportExcludeHolidays: readBool("REPORT_EXCLUDE_HOLIDAYS", true),
		ReportInferAbsent:     readBool("REPORT_INFER_ABSENT", true),
		LeaveSkipWeekends:     readBool("LEAVE_SKIP_WEEKENDS", false),
		RedisURL:              os.Getenv("REDIS_URL"),
		LogLevel:              readString("LOG_LEVEL", "info"),
		LogFormat:             readString("LOG_FORMAT", "text"),
		RateLimitPerMinute:    readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:        readInt("RATE_LIMIT_BURST", 30),
		AdminUser:             readString("ADMIN_USER", "admin"),
		AdminPasswordHash:     os.Getenv("ADMIN_PASSWORD_HASH"),
	}
}

// Location resolves Timezone. "Local" and "" mean the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
