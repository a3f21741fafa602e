// Package config loads service configuration from an optional YAML file
// with environment variables taking precedence, so containers can run with
// env-only configuration the way the rest of the stack expects.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	WS struct {
		WriteTimeout time.Duration `yaml:"write_timeout"`
		SendBuffer   int           `yaml:"send_buffer"`
		RateRPS      float64       `yaml:"rate_rps"`
		RateBurst    int           `yaml:"rate_burst"`
	} `yaml:"ws"`

	Cron struct {
		Enabled          bool          `yaml:"enabled"`
		ReminderHour     int           `yaml:"reminder_hour"`
		AutoCloseHour    int           `yaml:"auto_close_hour"`
		AnalyticsHour    int           `yaml:"analytics_hour"`
		MaintenanceEvery time.Duration `yaml:"maintenance_every"`
	} `yaml:"cron"`
}

// Default returns the built-in configuration, matching the cadences the
// producers run on: reminders 06:00, auto-close 00:00, analytics 01:00,
// maintenance sweep hourly.
func Default() Config {
	var c Config
	c.Port = "8080"
	c.WS.WriteTimeout = 5 * time.Second
	c.WS.SendBuffer = 16
	c.WS.RateRPS = 10
	c.WS.RateBurst = 20
	c.Cron.Enabled = true
	c.Cron.ReminderHour = 6
	c.Cron.AutoCloseHour = 0
	c.Cron.AnalyticsHour = 1
	c.Cron.MaintenanceEvery = time.Hour
	return c
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist) and applies env overrides on top of the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, err
			}
		} else if !os.IsNotExist(err) {
			return c, err
		}
	}
	c.applyEnv()
	return c, nil
}

// FromEnv is Load with the CONFIG_FILE env var as the path.
func FromEnv() (Config, error) { return Load(os.Getenv("CONFIG_FILE")) }

func (c *Config) applyEnv() {
	setStr(&c.Port, "PORT")
	setStr(&c.DatabaseURL, "DATABASE_URL")
	setStr(&c.RedisURL, "REDIS_URL")
	setFloat(&c.WS.RateRPS, "WS_RATE_RPS")
	setInt(&c.WS.RateBurst, "WS_RATE_BURST")
	setInt(&c.WS.SendBuffer, "WS_SEND_BUFFER")
	setDur(&c.WS.WriteTimeout, "WS_WRITE_TIMEOUT")
	if v := os.Getenv("CRON_ENABLED"); v != "" {
		c.Cron.Enabled = v != "false" && v != "0"
	}
	setInt(&c.Cron.ReminderHour, "CRON_REMINDER_HOUR")
	setInt(&c.Cron.AutoCloseHour, "CRON_AUTO_CLOSE_HOUR")
	setInt(&c.Cron.AnalyticsHour, "CRON_ANALYTICS_HOUR")
	setDur(&c.Cron.MaintenanceEvery, "CRON_MAINTENANCE_EVERY")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDur(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
