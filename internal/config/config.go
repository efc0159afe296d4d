// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/brandviz/brandviz/internal/models"
)

type RedisConfig struct {
	URL      string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"DASHBOARD_CACHE_TTL" envDefault:"10m"`
}

type InngestConfig struct {
	AppID      string `env:"INNGEST_APP_ID" envDefault:"brandviz"`
	EventKey   string `env:"INNGEST_EVENT_KEY"`
	SigningKey string `env:"INNGEST_SIGNING_KEY"`
}

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	PriceStarter  string `env:"STRIPE_PRICE_STARTER"`
	PriceGrowth   string `env:"STRIPE_PRICE_GROWTH"`
	PriceScale    string `env:"STRIPE_PRICE_SCALE"`
}

type SendGridConfig struct {
	APIKey    string `env:"SENDGRID_API_KEY"`
	FromEmail string `env:"SENDGRID_FROM" envDefault:"no-reply@brandviz.app"`
	FromName  string `env:"SENDGRID_FROM_NAME" envDefault:"BrandViz"`
}

type AuthConfig struct {
	JWTSecret    string        `env:"JWT_SECRET" envDefault:"dev-insecure-secret"`
	TokenTTL     time.Duration `env:"JWT_TTL" envDefault:"168h"`
	CookieName   string        `env:"SESSION_COOKIE" envDefault:"bv_session"`
	SecureCookie bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
}

// AnalysisConfig controls metering and pacing of brand analyses
type AnalysisConfig struct {
	PromptCSVPath      string        `env:"PROMPT_CSV_PATH" envDefault:"data/prompts.csv"`
	CreditsPerModel    float64       `env:"CREDITS_PER_MODEL" envDefault:"1"`
	SignupBonusCredits float64       `env:"SIGNUP_BONUS_CREDITS" envDefault:"3"`
	ChatGPTModel       string        `env:"CHATGPT_MODEL" envDefault:"gpt-4.1"`
	ClaudeModel        string        `env:"CLAUDE_MODEL" envDefault:"claude-sonnet-4-20250514"`
	GeminiModel        string        `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	ProviderRPS        float64       `env:"PROVIDER_RPS" envDefault:"2"`
	ProviderBurst      int           `env:"PROVIDER_BURST" envDefault:"2"`
	CallTimeout        time.Duration `env:"PROVIDER_CALL_TIMEOUT" envDefault:"90s"`
	StaleAfter         time.Duration `env:"ANALYSIS_STALE_AFTER" envDefault:"2h"`
	PendingExpiry      time.Duration `env:"ANALYSIS_PENDING_EXPIRY" envDefault:"6h"`
}

type Config struct {
	Port               string        `env:"PORT" envDefault:"8000"`
	Environment        string        `env:"ENVIRONMENT" envDefault:"development"`
	AppURL             string        `env:"APP_URL" envDefault:"http://localhost:3000"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"LOG_FORMAT" envDefault:"json"`
	ReadTimeout        time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	SlackWebhookURL    string        `env:"SLACK_WEBHOOK_URL"`

	OpenAIAPIKey              string `env:"OPENAI_API_KEY"`
	AzureOpenAIEndpoint       string `env:"AZURE_OPENAI_ENDPOINT"`
	AzureOpenAIKey            string `env:"AZURE_OPENAI_KEY"`
	AzureOpenAIDeploymentName string `env:"AZURE_OPENAI_DEPLOYMENT_NAME"`
	AnthropicAPIKey           string `env:"ANTHROPIC_API_KEY"`
	GeminiAPIKey              string `env:"GEMINI_API_KEY"`

	DatabaseURL string `env:"DATABASE_URL"`
	Database    DatabaseConfig

	Redis    RedisConfig
	Inngest  InngestConfig
	Stripe   StripeConfig
	SendGrid SendGridConfig
	Auth     AuthConfig
	Analysis AnalysisConfig
}

// DatabaseConfig holds the postgres connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
}

// DSN renders the settings as a lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Parse database configuration
	dbConfig, err := parseDatabaseConfig(cfg.DatabaseURL)
	if err != nil {
		// If DATABASE_URL parsing fails, try individual env vars as fallback
		dbConfig = DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "brandviz"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getEnvInt("DB_CONN_MAX_LIFETIME", 300),
		}
	}
	cfg.Database = dbConfig

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == ""
}

// Validate reports secrets that must be present outside development.
func (c *Config) Validate() error {
	if c.IsDevelopment() {
		return nil
	}

	var missing []string
	required := map[string]string{
		"JWT_SECRET":            c.Auth.JWTSecret,
		"STRIPE_SECRET_KEY":     c.Stripe.SecretKey,
		"STRIPE_WEBHOOK_SECRET": c.Stripe.WebhookSecret,
		"INNGEST_EVENT_KEY":     c.Inngest.EventKey,
		"INNGEST_SIGNING_KEY":   c.Inngest.SigningKey,
	}
	for name, value := range required {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if c.Auth.JWTSecret == "dev-insecure-secret" {
		missing = append(missing, "JWT_SECRET (default value)")
	}
	if c.OpenAIAPIKey == "" && c.AzureOpenAIKey == "" && c.AnthropicAPIKey == "" && c.GeminiAPIKey == "" {
		missing = append(missing, "at least one AI provider key")
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

// ModelName returns the provider model configured for a BrandViz assistant
func (c *Config) ModelName(m models.AIModel) string {
	switch m {
	case models.ModelChatGPT:
		return c.Analysis.ChatGPTModel
	case models.ModelClaude:
		return c.Analysis.ClaudeModel
	case models.ModelGemini:
		return c.Analysis.GeminiModel
	}
	return ""
}

// CreditPackages returns the purchasable credit bundles. Packages without a
// Stripe price are omitted.
func (c *Config) CreditPackages() []models.CreditPackage {
	all := []models.CreditPackage{
		{ID: "starter", Name: "Starter", Credits: 50, PriceCents: 1900, StripePriceID: c.Stripe.PriceStarter},
		{ID: "growth", Name: "Growth", Credits: 200, PriceCents: 4900, StripePriceID: c.Stripe.PriceGrowth},
		{ID: "scale", Name: "Scale", Credits: 1000, PriceCents: 19900, StripePriceID: c.Stripe.PriceScale},
	}

	packages := make([]models.CreditPackage, 0, len(all))
	for _, p := range all {
		if p.StripePriceID != "" {
			packages = append(packages, p)
		}
	}
	return packages
}

func parseDatabaseConfig(dbURL string) (DatabaseConfig, error) {
	if dbURL == "" {
		return DatabaseConfig{}, fmt.Errorf("DATABASE_URL not set")
	}

	parsedURL, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if parsedURL.Hostname() == "" || len(parsedURL.Path) < 2 {
		return DatabaseConfig{}, fmt.Errorf("DATABASE_URL must include host and database name")
	}

	sslMode := getEnv("DB_SSLMODE", "require")
	if mode := parsedURL.Query().Get("sslmode"); mode != "" {
		sslMode = mode
	}

	config := DatabaseConfig{
		Host:            parsedURL.Hostname(),
		Port:            5432, // default
		User:            parsedURL.User.Username(),
		Name:            parsedURL.Path[1:], // remove leading slash
		SSLMode:         sslMode,
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 25),
		ConnMaxLifetime: getEnvInt("DB_CONN_MAX_LIFETIME", 300),
	}

	if password, ok := parsedURL.User.Password(); ok {
		config.Password = password
	}

	if parsedURL.Port() != "" {
		if port, err := strconv.Atoi(parsedURL.Port()); err == nil {
			config.Port = port
		}
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
