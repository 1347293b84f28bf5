package config

import (
	"os"
	"strconv"
	"time"
)

const (
	appNameVar   = "APP_NAME"
	envVar       = "ENV"
	logLevelVar  = "LOG_LEVEL"
	logFormatVar = "LOG_FORMAT"
)

type EnvVars struct {
	file *FileConfig
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return lookup(appNameVar, e.file.App.Name, "LearnBox")
}

func (e EnvVars) GetEnv() string {
	return lookup(envVar, e.file.App.Env, "DEV")
}

func (e EnvVars) GetLogLevel() string {
	return lookup(logLevelVar, e.file.Logging.Level, "info")
}

// GetLogFormat returns "console" or "json". DEV defaults to console.
func (e EnvVars) GetLogFormat() string {
	def := "json"
	if e.GetEnv() == "DEV" {
		def = "console"
	}
	return lookup(logFormatVar, e.file.Logging.Format, def)
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// lookup resolves a setting from the environment, then the config file, then the default.
func lookup(envVar, fileValue, defaultValue string) string {
	if fileValue != "" {
		defaultValue = fileValue
	}
	return GetEnv(envVar, defaultValue)
}

func lookupInt(envVar string, fileValue, defaultValue int) int {
	if fileValue != 0 {
		defaultValue = fileValue
	}
	raw := os.Getenv(envVar)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func lookupBool(envVar string, fileValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(envVar))
	if err != nil {
		return fileValue
	}
	return v
}

func lookupDuration(envVar string, fileValue, defaultValue time.Duration) time.Duration {
	if fileValue != 0 {
		defaultValue = fileValue
	}
	raw := os.Getenv(envVar)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}
