// Package config loads the designwatch configuration from a YAML file with
// secrets overlaid from the environment. The resulting Config is read-only
// at runtime; validation errors are collected eagerly and are fatal before
// any scan begins.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joelkehle/designwatch/internal/patent"
)

type APIConfig struct {
	BaseURL            string `yaml:"base_url"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
	APIKey             string `yaml:"-"` // USPTO_API_KEY
}

type SMTPConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Host       string   `yaml:"smtp_host"`
	Port       int      `yaml:"smtp_port"`
	UseTLS     bool     `yaml:"use_tls"`
	User       string   `yaml:"-"` // SMTP_USER
	Password   string   `yaml:"-"` // SMTP_PASSWORD
	Recipients []string `yaml:"recipients"`
}

type NotificationConfig struct {
	Email             SMTPConfig `yaml:"email"`
	PGRReminderMonths []float64  `yaml:"pgr_reminder_months"`
}

type SourcesConfig struct {
	USPTOAPI        bool `yaml:"uspto_api"`
	OfficialGazette bool `yaml:"official_gazette"`
}

type AIConfig struct {
	Enabled             bool   `yaml:"enabled"`
	APIKey              string `yaml:"-"` // ANTHROPIC_API_KEY
	Model               string `yaml:"model"`
	RateLimitPerMinute  int    `yaml:"rate_limit_per_minute"`
	MaxTokens           int    `yaml:"max_tokens"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	ProductImagesDir    string `yaml:"product_images_dir"`
	SimilarityThreshold int    `yaml:"similarity_threshold"`
	MaxProductImages    int    `yaml:"max_product_images"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Config struct {
	API                 APIConfig               `yaml:"api"`
	SearchCriteria      []patent.SearchCriteria `yaml:"search_criteria"`
	InitialLookbackDays int                     `yaml:"initial_lookback_days"`
	Notifications       NotificationConfig      `yaml:"notifications"`
	Sources             SourcesConfig           `yaml:"sources"`
	DatabasePath        string                  `yaml:"-"`
	Database            struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	AI  AIConfig  `yaml:"ai"`
	Web WebConfig `yaml:"web"`
}

// Default returns the baseline configuration the YAML file is merged over.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:            "https://api.uspto.gov",
			RateLimitPerMinute: 50,
			TimeoutSeconds:     30,
			MaxRetries:         3,
		},
		InitialLookbackDays: 90,
		Notifications: NotificationConfig{
			Email: SMTPConfig{
				Enabled: true,
				Host:    "smtp.gmail.com",
				Port:    587,
				UseTLS:  true,
			},
			PGRReminderMonths: []float64{6, 8, 8.5},
		},
		Sources: SourcesConfig{
			USPTOAPI:        true,
			OfficialGazette: true,
		},
		DatabasePath: "data/patents.db",
		AI: AIConfig{
			Model:               "claude-sonnet-4-20250514",
			RateLimitPerMinute:  10,
			MaxTokens:           1024,
			TimeoutSeconds:      60,
			ProductImagesDir:    "data/product_images",
			SimilarityThreshold: 30,
			MaxProductImages:    3,
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
	}
}

// Load reads the YAML file at path, merges it over the defaults and
// overlays secrets from the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Database.Path != "" {
		cfg.DatabasePath = cfg.Database.Path
	}

	cfg.API.APIKey = strings.TrimSpace(os.Getenv("USPTO_API_KEY"))
	cfg.AI.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.Notifications.Email.User = strings.TrimSpace(os.Getenv("SMTP_USER"))
	cfg.Notifications.Email.Password = strings.TrimSpace(os.Getenv("SMTP_PASSWORD"))

	return cfg, nil
}

// Validate collects every configuration problem rather than stopping at the
// first, so a user can fix them in one pass. An empty slice means valid.
func (c Config) Validate() []string {
	var errs []string

	if c.Sources.USPTOAPI && c.API.APIKey == "" {
		errs = append(errs, "USPTO_API_KEY environment variable is not set")
	}
	if len(c.SearchCriteria) == 0 {
		errs = append(errs, "no search criteria defined")
	}
	for i, criteria := range c.SearchCriteria {
		if len(criteria.USClasses) == 0 && len(criteria.CPCClasses) == 0 && len(criteria.Keywords) == 0 {
			errs = append(errs, fmt.Sprintf("search criteria [%d] %q has no classes or keywords defined", i, criteria.Name))
		}
	}

	if c.Notifications.Email.Enabled {
		if c.Notifications.Email.User == "" {
			errs = append(errs, "SMTP_USER environment variable is not set")
		}
		if c.Notifications.Email.Password == "" {
			errs = append(errs, "SMTP_PASSWORD environment variable is not set")
		}
		if len(c.Notifications.Email.Recipients) == 0 {
			errs = append(errs, "no email recipients defined")
		}
	}

	if c.AI.Enabled {
		if c.AI.APIKey == "" {
			errs = append(errs, "ANTHROPIC_API_KEY environment variable is not set (required when ai.enabled is true)")
		}
		if err := checkImageDir(c.AI.ProductImagesDir); err != "" {
			errs = append(errs, err)
		}
	}

	return errs
}

func checkImageDir(dir string) string {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Sprintf("product images directory not found: %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Sprintf("product images directory unreadable: %s", dir)
	}
	for _, entry := range entries {
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg", ".webp":
			return ""
		}
	}
	return fmt.Sprintf("no image files found in product images directory: %s", dir)
}
