// Package config loads settings from an optional YAML file, a local .env file
// and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gendoc/internal/diagnosis"
)

const DefaultPath = "config.yaml"

type Config struct {
	Port       string        `yaml:"port"`
	LogLevel   string        `yaml:"log_level"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	Model struct {
		Provider        string            `yaml:"provider"`
		Name            string            `yaml:"name"`
		GeminiAPIKey    string            `yaml:"gemini_api_key"`
		OpenAIAPIKey    string            `yaml:"openai_api_key"`
		OpenAIBaseURL   string            `yaml:"openai_base_url"`
		Timeout         time.Duration     `yaml:"timeout"`
		Temperature     float32           `yaml:"temperature"`
		TopP            float32           `yaml:"top_p"`
		TopK            int32             `yaml:"top_k"`
		MaxOutputTokens int32             `yaml:"max_output_tokens"`
		Safety          map[string]string `yaml:"safety"`
	} `yaml:"model"`

	Places struct {
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"places"`

	Telegram struct {
		BotToken     string `yaml:"bot_token"`
		DoctorChatID int64  `yaml:"doctor_chat_id"`
	} `yaml:"telegram"`

	Report struct {
		FontPath string `yaml:"font_path"`
	} `yaml:"report"`

	RateLimit struct {
		RedisURL  string `yaml:"redis_url"`
		PerMinute int    `yaml:"per_minute"`
		// TrustedProxies lists CIDRs whose X-Forwarded-For is believed.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"rate_limit"`

	// Specialties replaces the default specialty routing table when set.
	Specialties       []diagnosis.Rule    `yaml:"specialties"`
	FallbackSpecialty diagnosis.Specialty `yaml:"fallback_specialty"`
}

func defaults() *Config {
	cfg := &Config{
		Port:       "8080",
		LogLevel:   "info",
		SessionTTL: 2 * time.Hour,
	}
	cfg.Model.Provider = "gemini"
	cfg.Model.Timeout = 90 * time.Second
	cfg.Model.Temperature = 0.7
	cfg.Model.TopP = 0.9
	cfg.Model.TopK = 40
	cfg.Model.MaxOutputTokens = 2048
	cfg.Places.Timeout = 15 * time.Second
	cfg.RateLimit.PerMinute = 10
	cfg.FallbackSpecialty = diagnosis.Physician
	return cfg
}

// Load reads .env, then the YAML file at path, then environment overrides.
// A missing file at path is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Model.Provider, "MODEL_PROVIDER")
	setString(&c.Model.Name, "MODEL_NAME")
	setString(&c.Model.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.Model.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.Model.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&c.Places.APIKey, "MAPS_API_KEY")
	setString(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Report.FontPath, "REPORT_FONT_PATH")
	setString(&c.RateLimit.RedisURL, "REDIS_URL")

	if v := os.Getenv("DOCTOR_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("DOCTOR_CHAT_ID must be an integer: %w", err)
		}
		c.Telegram.DoctorChatID = id
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		c.RateLimit.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be an integer: %w", err)
		}
		c.RateLimit.PerMinute = n
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SESSION_TTL: %w", err)
		}
		c.SessionTTL = d
	}
	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	return nil
}

// Validate checks that credentials for the selected provider and the maps
// client are present.
func (c *Config) Validate() error {
	var errs []error
	switch c.Model.Provider {
	case "gemini":
		if c.Model.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
		}
	case "openai":
		if c.Model.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MODEL_PROVIDER %q", c.Model.Provider))
	}
	if c.Places.APIKey == "" {
		errs = append(errs, errors.New("MAPS_API_KEY is required"))
	}
	for i, r := range c.Specialties {
		if r.Specialty == "" || len(r.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("specialties[%d]: specialty and keywords are required", i))
		}
	}
	if c.Model.Timeout <= 0 || c.Places.Timeout <= 0 {
		errs = append(errs, errors.New("model and places timeouts must be positive"))
	}
	if c.RateLimit.PerMinute < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	return errors.Join(errs...)
}

// ModelAPIKey returns the key of the selected provider.
func (c *Config) ModelAPIKey() string {
	if c.Model.Provider == "openai" {
		return c.Model.OpenAIAPIKey
	}
	return c.Model.GeminiAPIKey
}

// SharingEnabled reports whether reports can be sent to Telegram.
func (c *Config) SharingEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.DoctorChatID != 0
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
