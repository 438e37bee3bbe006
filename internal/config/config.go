package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"biz-agent/internal/logger"
)

type Config struct {
	DatabaseURL string

	// OpenAI
	OpenAIAPIKey    string
	OpenAIModel     string
	ResolverTimeout time.Duration
	ContextTurns    int

	// Pipeline
	DebounceWindow time.Duration
	LockTimeout    time.Duration
	MatchThreshold float64
	Timezone       *time.Location

	// HTTP
	ServerPort        string
	JWTSecret         string
	AllowedOrigins    []string
	InboundRatePerSec float64
	InboundBurst      int

	// Senders
	ShopName          string
	OwnerPhone        string
	AuthorizedSenders []string

	// Twilio; replies are only logged when unset
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppNumber string
	TwilioSMSNumber      string

	// Scheduler
	SummaryCron  string
	ReminderCron string
	OverdueDays  int

	// Logging
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	var errs []string
	duration := func(key, def string) time.Duration {
		d, err := time.ParseDuration(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		return d
	}
	integer := func(key string, def int) int {
		n, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		return n
	}
	float := func(key string, def float64) float64 {
		f, err := strconv.ParseFloat(getEnv(key, strconv.FormatFloat(def, 'f', -1, 64)), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		return f
	}

	tz, err := time.LoadLocation(getEnv("TIMEZONE", "Asia/Kolkata"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("TIMEZONE: %v", err))
		tz = time.Local
	}

	config := &Config{
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o"),
		ResolverTimeout:      duration("RESOLVER_TIMEOUT", "8s"),
		ContextTurns:         integer("CONTEXT_TURNS", 5),
		DebounceWindow:       duration("DEBOUNCE_WINDOW", "2s"),
		LockTimeout:          duration("LOCK_TIMEOUT", "2s"),
		MatchThreshold:       float("MATCH_THRESHOLD", 0.75),
		Timezone:             tz,
		ServerPort:           getEnv("SERVER_PORT", "8080"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		AllowedOrigins:       splitList(getEnv("ALLOWED_ORIGINS", "")),
		InboundRatePerSec:    float("INBOUND_RATE_PER_SEC", 5),
		InboundBurst:         integer("INBOUND_BURST", 20),
		ShopName:             getEnv("SHOP_NAME", ""),
		OwnerPhone:           getEnv("OWNER_PHONE", ""),
		AuthorizedSenders:    splitList(getEnv("AUTHORIZED_SENDERS", "")),
		TwilioAccountSID:     getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWhatsAppNumber: getEnv("TWILIO_WHATSAPP_NUMBER", ""),
		TwilioSMSNumber:      getEnv("TWILIO_PHONE_NUMBER", ""),
		SummaryCron:          getEnv("SUMMARY_CRON", "0 21 * * *"),
		ReminderCron:         getEnv("REMINDER_CRON", "0 10 * * *"),
		OverdueDays:          integer("OVERDUE_DAYS", 30),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:        getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:            getEnv("LOG_OUTPUT", "stdout"),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("DEBOUNCE_WINDOW must be positive")
	}
	if c.ResolverTimeout <= 0 {
		return fmt.Errorf("RESOLVER_TIMEOUT must be positive")
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be in (0,1]")
	}
	if c.ContextTurns < 0 {
		return fmt.Errorf("CONTEXT_TURNS must not be negative")
	}
	if (c.TwilioAccountSID == "") != (c.TwilioAuthToken == "") {
		return fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together")
	}
	return nil
}

// TwilioEnabled reports whether replies go through Twilio.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
