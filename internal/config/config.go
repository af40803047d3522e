package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Employee      EmployeeConfig `toml:"employee"`
	Storage       StorageConfig  `toml:"storage"`
	Calendar      CalendarConfig `toml:"calendar"`
	Work          WorkConfig     `toml:"work"`
	Notifications NotifyConfig   `toml:"notifications"`
}

type EmployeeConfig struct {
	Name string `toml:"name"`
}

type StorageConfig struct {
	Path string `toml:"path"` // empty means ~/.config/punchclock/punchclock.db
}

type CalendarConfig struct {
	IncludeRegional bool   `toml:"include_regional"`
	ExtraHolidays   string `toml:"extra_holidays"` // ICS URL or file path
}

type WorkConfig struct {
	WeeklyThresholdHours  float64 `toml:"weekly_threshold_hours"`
	DailyTheoreticalHours float64 `toml:"daily_theoretical_hours"`
	MaxDaysAhead          int     `toml:"max_days_ahead"`
}

type NotifyConfig struct {
	Enabled                 bool `toml:"enabled"`
	ReminderIntervalMinutes int  `toml:"reminder_interval_minutes"`
}

func DefaultConfig() Config {
	return Config{
		Calendar: CalendarConfig{
			IncludeRegional: true,
		},
		Work: WorkConfig{
			WeeklyThresholdHours:  40,
			DailyTheoreticalHours: 8,
			MaxDaysAhead:          7,
		},
		Notifications: NotifyConfig{
			Enabled:                 true,
			ReminderIntervalMinutes: 60,
		},
	}
}

func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "punchclock"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LoadDotEnv loads variables from the given files (".env" when none) without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			applyEnvOverrides(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PUNCHCLOCK_EMPLOYEE"); v != "" {
		cfg.Employee.Name = v
	}
	if v := os.Getenv("PUNCHCLOCK_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("PUNCHCLOCK_EXTRA_HOLIDAYS"); v != "" {
		cfg.Calendar.ExtraHolidays = v
	}
	if v := os.Getenv("PUNCHCLOCK_NOTIFICATIONS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Notifications.Enabled = b
		}
	}
}

func (c *Config) Validate() error {
	if c.Work.WeeklyThresholdHours <= 0 {
		return fmt.Errorf("work.weekly_threshold_hours must be positive")
	}
	if c.Work.DailyTheoreticalHours <= 0 || c.Work.DailyTheoreticalHours > 24 {
		return fmt.Errorf("work.daily_theoretical_hours must be between 0 and 24")
	}
	if c.Work.MaxDaysAhead < 0 {
		return fmt.Errorf("work.max_days_ahead must not be negative")
	}
	if c.Notifications.ReminderIntervalMinutes <= 0 {
		return fmt.Errorf("notifications.reminder_interval_minutes must be positive")
	}
	return nil
}

func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// SaveEmployeeName persists the default employee to the config file using a
// read-modify-write approach to preserve other settings.
func SaveEmployeeName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("employee name is empty")
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	cfg := make(map[string]any)

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}
	if len(data) > 0 {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	emp, ok := cfg["employee"].(map[string]any)
	if !ok {
		emp = make(map[string]any)
	}
	emp["name"] = name
	cfg["employee"] = emp

	if err := EnsureConfigDir(); err != nil {
		return err
	}

	out, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, out, 0644)
}
