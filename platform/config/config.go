// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetEmailProvider() string
	GetBrevoAPIKey() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// SMSConfig provides settings for the SMS gateway client.
type SMSConfig interface {
	GetSMSGatewayURL() string
	GetSMSGatewayKey() string
	GetSMSSenderID() string
}

// SchedulerConfig provides settings for asynq and its Redis backend.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// AutomationConfig provides settings for the background automation loops.
type AutomationConfig interface {
	GetTaskPollInterval() time.Duration
	GetTaskBatchSize() int
	GetOutboxPollInterval() time.Duration
	GetOutboxBatchSize() int
	GetReminderSweepInterval() time.Duration
	GetAssignmentRequireSchedulingLink() bool
	GetGenericSchedulingURL() string
}

// WebhookConfig provides settings for inbound webhook verification.
type WebhookConfig interface {
	GetWebhookSigningSecret() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                             string
	HTTPAddr                        string
	DatabaseURL                     string
	CORSAllowAll                    bool
	CORSOrigins                     []string
	CORSAllowCreds                  bool
	AppBaseURL                      string
	GenericSchedulingURL            string
	EmailEnabled                    bool
	EmailProvider                   string
	BrevoAPIKey                     string
	SMTPHost                        string
	SMTPPort                        int
	SMTPUsername                    string
	SMTPPassword                    string
	EmailFromName                   string
	EmailFromAddress                string
	SMSGatewayURL                   string
	SMSGatewayKey                   string
	SMSSenderID                     string
	RedisURL                        string
	RedisTLSInsecure                bool
	AsynqQueueName                  string
	AsynqConcurrency                int
	TaskPollInterval                time.Duration
	TaskBatchSize                   int
	OutboxPollInterval              time.Duration
	OutboxBatchSize                 int
	ReminderSweepInterval           time.Duration
	AssignmentRequireSchedulingLink bool
	WebhookSigningSecret            string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetEmailProvider() string    { return c.EmailProvider }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// SMSConfig implementation
func (c *Config) GetSMSGatewayURL() string { return c.SMSGatewayURL }
func (c *Config) GetSMSGatewayKey() string { return c.SMSGatewayKey }
func (c *Config) GetSMSSenderID() string   { return c.SMSSenderID }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// AutomationConfig implementation
func (c *Config) GetTaskPollInterval() time.Duration      { return c.TaskPollInterval }
func (c *Config) GetTaskBatchSize() int                   { return c.TaskBatchSize }
func (c *Config) GetOutboxPollInterval() time.Duration    { return c.OutboxPollInterval }
func (c *Config) GetOutboxBatchSize() int                 { return c.OutboxBatchSize }
func (c *Config) GetReminderSweepInterval() time.Duration { return c.ReminderSweepInterval }
func (c *Config) GetAssignmentRequireSchedulingLink() bool {
	return c.AssignmentRequireSchedulingLink
}
func (c *Config) GetGenericSchedulingURL() string { return c.GenericSchedulingURL }

// WebhookConfig implementation
func (c *Config) GetWebhookSigningSecret() string { return c.WebhookSigningSecret }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	emailProvider := strings.ToLower(getEnv("EMAIL_PROVIDER", "smtp"))
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:                             getEnv("APP_ENV", "development"),
		HTTPAddr:                        getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:                     getEnv("DATABASE_URL", ""),
		CORSAllowAll:                    corsAllowAll,
		CORSOrigins:                     corsOrigins,
		CORSAllowCreds:                  strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		AppBaseURL:                      getEnv("APP_BASE_URL", "http://localhost:4200"),
		GenericSchedulingURL:            getEnv("GENERIC_SCHEDULING_URL", ""),
		EmailEnabled:                    emailEnabled,
		EmailProvider:                   emailProvider,
		BrevoAPIKey:                     getEnv("BREVO_API_KEY", ""),
		SMTPHost:                        getEnv("SMTP_HOST", ""),
		SMTPPort:                        mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:                    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:                    getEnv("SMTP_PASSWORD", ""),
		EmailFromName:                   getEnv("EMAIL_FROM_NAME", "LeadFlow"),
		EmailFromAddress:                getEnv("EMAIL_FROM_ADDRESS", ""),
		SMSGatewayURL:                   getEnv("SMS_GATEWAY_URL", ""),
		SMSGatewayKey:                   getEnv("SMS_GATEWAY_KEY", ""),
		SMSSenderID:                     getEnv("SMS_SENDER_ID", ""),
		RedisURL:                        getEnv("REDIS_URL", ""),
		RedisTLSInsecure:                strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:                  getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:                mustInt(getEnv("ASYNQ_CONCURRENCY", "1")),
		TaskPollInterval:                mustDuration(getEnv("TASK_POLL_INTERVAL", "30s")),
		TaskBatchSize:                   mustInt(getEnv("TASK_BATCH_SIZE", "25")),
		OutboxPollInterval:              mustDuration(getEnv("OUTBOX_POLL_INTERVAL", "2s")),
		OutboxBatchSize:                 mustInt(getEnv("OUTBOX_BATCH_SIZE", "50")),
		ReminderSweepInterval:           mustDuration(getEnv("REMINDER_SWEEP_INTERVAL", "1h")),
		AssignmentRequireSchedulingLink: strings.EqualFold(getEnv("ASSIGNMENT_REQUIRE_SCHEDULING_LINK", "false"), "true"),
		WebhookSigningSecret:            getEnv("WEBHOOK_SIGNING_SECRET", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EmailEnabled && cfg.EmailProvider == "brevo" && cfg.BrevoAPIKey == "" {
		return nil, fmt.Errorf("BREVO_API_KEY is required when EMAIL_PROVIDER is brevo")
	}
	if cfg.EmailEnabled && cfg.EmailProvider == "smtp" && cfg.SMTPHost == "" {
		return nil, fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER is smtp")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
