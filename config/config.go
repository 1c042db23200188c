// Package config loads server configuration.
//
// Precedence, lowest first: DefaultConfig, optional TOML file, optional
// .env file (loaded into the process environment without overriding it),
// LEADS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/leadflow/lead-engine/leads"
)

const envPrefix = "LEADS_"

// Duration is a time.Duration written as "48h" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`

	HTTP     HTTPConfig     `toml:"http"`
	Database DatabaseConfig `toml:"database"`
	Engine   EngineConfig   `toml:"engine"`
	Sweeps   SweepConfig    `toml:"sweeps"`
	SMTP     SMTPConfig     `toml:"smtp"`
	Notify   NotifyConfig   `toml:"notify"`

	// CatalogPath points at a credit package JSON file. Empty accepts any
	// package in purchase webhooks.
	CatalogPath string `toml:"catalog_path"`
}

type HTTPConfig struct {
	Addr            string   `toml:"addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type EngineConfig struct {
	FanOut          int      `toml:"fan_out"`
	DirectFanOut    int      `toml:"direct_fan_out"`
	ResponseTimeout Duration `toml:"response_timeout"`
	ReminderAfter   Duration `toml:"reminder_after"`
	FollowUpAfter   Duration `toml:"follow_up_after"`
	BatchSize       int      `toml:"batch_size"`
	CountyFallback  bool     `toml:"county_fallback"`
	AdminEmail      string   `toml:"admin_email"`
	PhoneRegion     string   `toml:"phone_region"`
}

// SweepConfig holds cron specs. An empty spec disables the sweep.
type SweepConfig struct {
	Reassignment string `toml:"reassignment"`
	Reminders    string `toml:"reminders"`
	WonBid       string `toml:"won_bid"`
}

type SMTPConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	FromName  string `toml:"from_name"`
	FromEmail string `toml:"from_email"`
}

// Enabled reports whether email goes out over SMTP instead of the log.
func (c SMTPConfig) Enabled() bool { return c.Host != "" && c.FromEmail != "" }

type NotifyConfig struct {
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

func DefaultConfig() Config {
	s := leads.DefaultSettings()
	return Config{
		Env:      "development",
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			CORSOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
			ShutdownTimeout: Duration{30 * time.Second},
		},
		Database: DatabaseConfig{Path: "leads.db"},
		Engine: EngineConfig{
			FanOut:          s.FanOut,
			DirectFanOut:    s.DirectFanOut,
			ResponseTimeout: Duration{s.ResponseTimeout},
			ReminderAfter:   Duration{s.ReminderAfter},
			FollowUpAfter:   Duration{s.FollowUpAfter},
			BatchSize:       s.BatchSize,
			CountyFallback:  s.CountyFallback,
			PhoneRegion:     s.PhoneRegion,
		},
		Sweeps: SweepConfig{
			Reassignment: "@every 15m",
			Reminders:    "0 * * * *",
			WonBid:       "30 9 * * *",
		},
		SMTP:   SMTPConfig{Port: 587, FromName: "Lead Engine"},
		Notify: NotifyConfig{RatePerSecond: 5, Burst: 10},
	}
}

// Load builds a Config. path may be empty; a missing .env is ignored.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Engine.FanOut < 1:
		return errors.New("config: engine.fan_out must be at least 1")
	case c.Engine.DirectFanOut < 1:
		return errors.New("config: engine.direct_fan_out must be at least 1")
	case c.Engine.ResponseTimeout.Duration <= 0:
		return errors.New("config: engine.response_timeout must be positive")
	case c.Engine.ReminderAfter.Duration <= 0:
		return errors.New("config: engine.reminder_after must be positive")
	case c.Engine.ReminderAfter.Duration >= c.Engine.ResponseTimeout.Duration:
		return errors.New("config: engine.reminder_after must be shorter than engine.response_timeout")
	case c.Engine.FollowUpAfter.Duration <= 0:
		return errors.New("config: engine.follow_up_after must be positive")
	case c.Database.Path == "":
		return errors.New("config: database.path is required")
	}
	return nil
}

// Settings converts the engine section for leads.NewEngine.
func (c Config) Settings() leads.Settings {
	return leads.Settings{
		FanOut:          c.Engine.FanOut,
		DirectFanOut:    c.Engine.DirectFanOut,
		ResponseTimeout: c.Engine.ResponseTimeout.Duration,
		ReminderAfter:   c.Engine.ReminderAfter.Duration,
		FollowUpAfter:   c.Engine.FollowUpAfter.Duration,
		BatchSize:       c.Engine.BatchSize,
		CountyFallback:  c.Engine.CountyFallback,
		AdminEmail:      c.Engine.AdminEmail,
		PhoneRegion:     c.Engine.PhoneRegion,
	}
}

// SweepSpecs keys the cron specs by sweep name.
func (c Config) SweepSpecs() map[string]string {
	return map[string]string{
		leads.SweepReassignment: c.Sweeps.Reassignment,
		leads.SweepReminders:    c.Sweeps.Reminders,
		leads.SweepWonBid:       c.Sweeps.WonBid,
	}
}

// ===== ENVIRONMENT =====

func applyEnv(c *Config) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("ENV", &c.Env)
	str("LOG_LEVEL", &c.LogLevel)
	str("HTTP_ADDR", &c.HTTP.Addr)
	if v, ok := lookup("CORS_ORIGINS"); ok {
		c.HTTP.CORSOrigins = splitCSV(v)
	}
	dur("SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)
	str("DB_PATH", &c.Database.Path)
	str("CATALOG_PATH", &c.CatalogPath)

	num("FAN_OUT", &c.Engine.FanOut)
	num("DIRECT_FAN_OUT", &c.Engine.DirectFanOut)
	dur("RESPONSE_TIMEOUT", &c.Engine.ResponseTimeout)
	dur("REMINDER_AFTER", &c.Engine.ReminderAfter)
	dur("FOLLOW_UP_AFTER", &c.Engine.FollowUpAfter)
	num("BATCH_SIZE", &c.Engine.BatchSize)
	flag("COUNTY_FALLBACK", &c.Engine.CountyFallback)
	str("ADMIN_EMAIL", &c.Engine.AdminEmail)
	str("PHONE_REGION", &c.Engine.PhoneRegion)

	str("SWEEP_REASSIGNMENT", &c.Sweeps.Reassignment)
	str("SWEEP_REMINDERS", &c.Sweeps.Reminders)
	str("SWEEP_WON_BID", &c.Sweeps.WonBid)

	str("SMTP_HOST", &c.SMTP.Host)
	num("SMTP_PORT", &c.SMTP.Port)
	str("SMTP_USERNAME", &c.SMTP.Username)
	str("SMTP_PASSWORD", &c.SMTP.Password)
	str("SMTP_FROM_NAME", &c.SMTP.FromName)
	str("SMTP_FROM_EMAIL", &c.SMTP.FromEmail)

	if v, ok := lookup("NOTIFY_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sNOTIFY_RATE: %w", envPrefix, err))
		} else {
			c.Notify.RatePerSecond = f
		}
	}
	num("NOTIFY_BURST", &c.Notify.Burst)

	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
