package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings are the tunables read from config.yaml and FTWBENCH_* variables.
// Command line flags override both.
type Settings struct {
	Database     string   `yaml:"database"`
	WBPath       string   `yaml:"wb_path"`
	WBArgs       []string `yaml:"wb_args"`
	Server       string   `yaml:"server"`
	LogLevel     string   `yaml:"log_level"`
	LogPretty    bool     `yaml:"log_pretty"`
	RuleTemplate string   `yaml:"rule_template"`
	RuleID       string   `yaml:"rule_id"`
	MetricsFile  string   `yaml:"metrics_file"`
	ReportWidth  int      `yaml:"report_width"`
	ParseWorkers int      `yaml:"parse_workers"`
	S3Region     string   `yaml:"s3_region"`
}

// DefaultSettings returns the built-in defaults
func DefaultSettings() Settings {
	return Settings{
		Database:     DatabasePath,
		LogLevel:     "info",
		ParseWorkers: runtime.NumCPU(),
	}
}

// LoadSettings reads path over the defaults, then applies environment
// overrides. A missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return s, fmt.Errorf("failed to read settings: %w", err)
		default:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return s, fmt.Errorf("failed to parse settings %s: %w", path, err)
			}
		}
	}

	s.applyEnv()
	if s.ParseWorkers <= 0 {
		s.ParseWorkers = 1
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	s.Database = getEnv("FTWBENCH_DB", s.Database)
	s.WBPath = getEnv("FTWBENCH_WB_PATH", s.WBPath)
	if v := strings.TrimSpace(os.Getenv("FTWBENCH_WB_ARGS")); v != "" {
		s.WBArgs = strings.Fields(v)
	}
	s.Server = getEnv("FTWBENCH_SERVER", s.Server)
	s.LogLevel = getEnv("FTWBENCH_LOG_LEVEL", s.LogLevel)
	s.LogPretty = getEnvBool("FTWBENCH_LOG_PRETTY", s.LogPretty)
	s.RuleTemplate = getEnv("FTWBENCH_RULE_TEMPLATE", s.RuleTemplate)
	s.RuleID = getEnv("FTWBENCH_RULE_ID", s.RuleID)
	s.MetricsFile = getEnv("FTWBENCH_METRICS_FILE", s.MetricsFile)
	s.ReportWidth = getEnvInt("FTWBENCH_REPORT_WIDTH", s.ReportWidth)
	s.ParseWorkers = getEnvInt("FTWBENCH_PARSE_WORKERS", s.ParseWorkers)
	s.S3Region = getEnv("FTWBENCH_S3_REGION", s.S3Region)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}
