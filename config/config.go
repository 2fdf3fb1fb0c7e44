// Package config loads runtime settings from the environment (optionally seeded
// from a .env file) and an optional YAML file with pipeline tuning.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         string
	GinMode      string
	FrontendURL  string
	PublicURL    string
	DatabaseURL  string
	JWTSecret    []byte
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	MagicLinkTTL time.Duration

	ClickHouse ClickHouseConfig
	LLM        LLMConfig
	OAuth      OAuthConfig
	Pipeline   PipelineConfig

	PageSpeedAPIKey  string
	ScreenshotDir    string
	ChromePath       string
	ThriveCartSecret string
	AnonymousPerHour int
	AdminEmails      []string
}

type ClickHouseConfig struct {
	Host       string
	NativePort int
	Database   string
	Username   string
	Password   string
}

// Enabled reports whether enough settings are present to dial ClickHouse.
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != "" && c.NativePort != 0 && c.Database != ""
}

type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestsPerMin int
}

type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	Auth0Domain        string
	Auth0ClientID      string
	Auth0ClientSecret  string
}

// PipelineConfig is the part of the configuration that can be overridden from
// the YAML file named by PIPELINE_CONFIG.
type PipelineConfig struct {
	MaxURLs           int           `yaml:"max_urls"`
	ScrapeTimeout     time.Duration `yaml:"scrape_timeout"`
	ScreenshotTimeout time.Duration `yaml:"screenshot_timeout"`
	LLMTimeout        time.Duration `yaml:"llm_timeout"`
	LLMRetries        int           `yaml:"llm_retries"`
	LLMBackoff        time.Duration `yaml:"llm_backoff"`
	ProgressTTL       time.Duration `yaml:"progress_ttl"`
	MaxContentChars   int           `yaml:"max_content_chars"`
	PromptTemplate    string        `yaml:"prompt_template"`
}

// DefaultPipeline returns the pipeline settings used when nothing overrides them.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		MaxURLs:           10,
		ScrapeTimeout:     20 * time.Second,
		ScreenshotTimeout: 30 * time.Second,
		LLMTimeout:        120 * time.Second,
		LLMRetries:        3,
		LLMBackoff:        2 * time.Second,
		ProgressTTL:       10 * time.Minute,
		MaxContentChars:   12000,
	}
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		GinMode:      os.Getenv("GIN_MODE"),
		FrontendURL:  getenv("FE_ORIGIN", "http://localhost:3000"),
		PublicURL:    getenv("PUBLIC_URL", "http://localhost:8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JWTSecret:    []byte(os.Getenv("JWT_SECRET_KEY")),
		AccessTTL:    getDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTTL:   getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		MagicLinkTTL: getDuration("MAGIC_LINK_TTL", 15*time.Minute),
		ClickHouse: ClickHouseConfig{
			Host:       os.Getenv("CLICKHOUSE_HOST"),
			NativePort: getInt("CLICKHOUSE_NATIVE_PORT", 0),
			Database:   os.Getenv("CLICKHOUSE_DB_NAME"),
			Username:   os.Getenv("CLICKHOUSE_USERNAME"),
			Password:   os.Getenv("CLICKHOUSE_PASSWORD"),
		},
		LLM: LLMConfig{
			BaseURL:        getenv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         os.Getenv("LLM_API_KEY"),
			Model:          getenv("LLM_MODEL", "gpt-4o-mini"),
			RequestsPerMin: getInt("LLM_REQUESTS_PER_MIN", 30),
		},
		OAuth: OAuthConfig{
			GoogleClientID:     os.Getenv("OAUTH_GOOGLE_CLIENT_ID"),
			GoogleClientSecret: os.Getenv("OAUTH_GOOGLE_CLIENT_SECRET"),
			GitHubClientID:     os.Getenv("OAUTH_GITHUB_CLIENT_ID"),
			GitHubClientSecret: os.Getenv("OAUTH_GITHUB_CLIENT_SECRET"),
			Auth0Domain:        os.Getenv("OAUTH_AUTH0_DOMAIN"),
			Auth0ClientID:      os.Getenv("OAUTH_AUTH0_CLIENT_ID"),
			Auth0ClientSecret:  os.Getenv("OAUTH_AUTH0_CLIENT_SECRET"),
		},
		Pipeline:         DefaultPipeline(),
		PageSpeedAPIKey:  os.Getenv("PAGESPEED_API_KEY"),
		ScreenshotDir:    getenv("SCREENSHOT_DIR", "./data/screenshots"),
		ChromePath:       os.Getenv("CHROME_PATH"),
		ThriveCartSecret: os.Getenv("THRIVECART_SECRET"),
		AnonymousPerHour: getInt("ANONYMOUS_ANALYSES_PER_HOUR", 3),
		AdminEmails:      splitList(os.Getenv("ADMIN_EMAILS")),
	}

	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		if err := LoadPipelineFile(path, &cfg.Pipeline); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadPipelineFile overlays the YAML file at path onto p. Keys absent from the
// file keep their current values.
func LoadPipelineFile(path string, p *PipelineConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pipeline config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("parse pipeline config %s: %w", path, err)
	}
	if p.MaxURLs <= 0 || p.MaxURLs > 10 {
		return fmt.Errorf("pipeline config: max_urls must be between 1 and 10, got %d", p.MaxURLs)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
