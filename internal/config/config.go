package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	defaultHistoryLimit = 200
)

type Config struct {
	Port               string
	DatabaseURL        string
	StoreDriver        string
	SlackBotToken      string
	SlackClientID      string
	SlackClientSecret  string
	SlackRedirectURL   string
	SlackSigningSecret string
	LinkBlacklist      string
	ScanInterval       time.Duration
	ScanHistoryLimit   int
	ReactionEmoji      string
	LogLevel           string
	LogFormat          string
	Environment        string

	problems []string
}

// Load reads the environment, after merging a .env file when one exists
func Load() *Config {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	c := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		StoreDriver:        strings.ToLower(getEnvOrDefault("STORE_DRIVER", StorePostgres)),
		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackClientID:      os.Getenv("SLACK_CLIENT_ID"),
		SlackClientSecret:  os.Getenv("SLACK_CLIENT_SECRET"),
		SlackRedirectURL:   os.Getenv("SLACK_REDIRECT_URL"),
		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),
		LinkBlacklist:      os.Getenv("LINK_BLACKLIST"),
		ReactionEmoji:      strings.Trim(getEnvOrDefault("REACTION_EMOJI", "star"), ": "),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "text"),
		Environment:        getEnvOrDefault("ENVIRONMENT", "development"),
	}

	defaultURL := "postgres://localhost/starbot?sslmode=disable"
	if c.StoreDriver == StoreSQLite {
		defaultURL = "starbot.db"
	}
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", defaultURL)

	interval, err := time.ParseDuration(getEnvOrDefault("SCAN_INTERVAL", "0"))
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("SCAN_INTERVAL is not a duration: %v", err))
	}
	c.ScanInterval = interval

	limit, err := strconv.Atoi(getEnvOrDefault("SCAN_HISTORY_LIMIT", strconv.Itoa(defaultHistoryLimit)))
	if err != nil {
		c.problems = append(c.problems, "SCAN_HISTORY_LIMIT must be a number")
	}
	c.ScanHistoryLimit = limit

	return c
}

// Validate returns the first configuration problem found
func (c *Config) Validate() error {
	problems := append([]string(nil), c.problems...)

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}

	if c.StoreDriver != StorePostgres && c.StoreDriver != StoreSQLite {
		problems = append(problems, "STORE_DRIVER must be one of: postgres, sqlite")
	}

	if c.SlackBotToken != "" && !strings.HasPrefix(c.SlackBotToken, "xoxb-") {
		problems = append(problems, "SLACK_BOT_TOKEN must start with 'xoxb-'")
	}

	if (c.SlackClientID == "") != (c.SlackClientSecret == "") {
		problems = append(problems, "SLACK_CLIENT_ID and SLACK_CLIENT_SECRET must be set together")
	}

	if c.ScanInterval < 0 {
		problems = append(problems, "SCAN_INTERVAL cannot be negative")
	}

	if c.ScanHistoryLimit <= 0 {
		problems = append(problems, "SCAN_HISTORY_LIMIT must be positive")
	}

	if c.ReactionEmoji == "" {
		problems = append(problems, "REACTION_EMOJI cannot be empty")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		problems = append(problems, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		problems = append(problems, "LOG_FORMAT must be one of: text, json")
	}

	if len(problems) > 0 {
		return errors.New(problems[0])
	}

	return nil
}

// OAuthEnabled reports whether the install flow can be served
func (c *Config) OAuthEnabled() bool {
	return c.SlackClientID != "" && c.SlackClientSecret != ""
}

// EventsAPIEnabled reports whether teams receive events over HTTP instead of
// RTM. OAuth v2 installs need it, their tokens cannot open RTM.
func (c *Config) EventsAPIEnabled() bool {
	return c.SlackSigningSecret != ""
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
