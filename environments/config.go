package environments

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Mail     MailConfig
	Storage  StorageConfig
	Poller   PollerConfig
	Alert    AlertConfig
	Auth     AuthConfig
	LogLevel string
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Driver     string // mysql or sqlite
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SQLitePath string
}

type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	DB           int
	TTL          time.Duration
	DisableCache bool
}

type MailConfig struct {
	Provider     string // smtp, resend or log
	From         string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPTimeout  time.Duration
	ResendAPIKey string
}

type StorageConfig struct {
	Driver             string // local or s3
	UploadFolder       string
	MaxAttachmentBytes int64
	S3Endpoint         string
	S3Bucket           string
	S3Region           string
	S3AccessKey        string
	S3SecretKey        string
}

type PollerConfig struct {
	Interval  time.Duration
	BatchSize int
	AutoStart bool
}

type AlertConfig struct {
	WebhookURL     string
	IterationCount int
	Timeout        time.Duration
}

type AuthConfig struct {
	MessagesAPIKey  string
	SchedulerAPIKey string
}

// LoadDotEnv reads a .env file into the process environment when one exists.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

func Load() *Config {
	emailAddress := GetEnv("EMAIL_ADDRESS", "")

	return &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(GetEnv("DB_DRIVER", "mysql")),
			Host:       GetEnv("DB_HOST", "localhost"),
			Port:       GetEnv("DB_PORT", "3306"),
			User:       GetEnv("DB_USER", "capsule"),
			Password:   GetEnv("DB_PASSWORD", "capsule123"),
			DBName:     GetEnv("DB_NAME", "scheduled_emails"),
			SQLitePath: GetEnv("SQLITE_PATH", "scheduled_emails.db"),
		},
		Redis: RedisConfig{
			Host:         GetEnv("REDIS_HOST", "localhost"),
			Port:         GetEnv("REDIS_PORT", "6379"),
			Password:     GetEnv("REDIS_PASSWORD", ""),
			DB:           GetEnvAsInt("REDIS_DB", 0),
			TTL:          GetEnvAsDuration("REDIS_TTL", 24*time.Hour),
			DisableCache: GetEnvAsBool("REDIS_DISABLE_CLIENT_CACHE", false),
		},
		Mail: MailConfig{
			Provider:     strings.ToLower(GetEnv("MAIL_PROVIDER", "smtp")),
			From:         GetEnv("MAIL_FROM", emailAddress),
			SMTPHost:     GetEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     GetEnvAsInt("SMTP_PORT", 465),
			SMTPUsername: emailAddress,
			SMTPPassword: GetEnv("EMAIL_PASSWORD", ""),
			SMTPTimeout:  GetEnvAsDuration("SMTP_TIMEOUT", 30*time.Second),
			ResendAPIKey: GetEnv("RESEND_API_KEY", ""),
		},
		Storage: StorageConfig{
			Driver:             strings.ToLower(GetEnv("STORAGE_DRIVER", "local")),
			UploadFolder:       GetEnv("UPLOAD_FOLDER", "uploads"),
			MaxAttachmentBytes: int64(GetEnvAsInt("MAX_ATTACHMENT_BYTES", 25<<20)),
			S3Endpoint:         GetEnv("S3_ENDPOINT", ""),
			S3Bucket:           GetEnv("S3_BUCKET", ""),
			S3Region:           GetEnv("S3_REGION", ""),
			S3AccessKey:        GetEnv("S3_ACCESS_KEY", ""),
			S3SecretKey:        GetEnv("S3_SECRET_KEY", ""),
		},
		Poller: PollerConfig{
			Interval:  GetEnvAsDuration("POLL_INTERVAL", time.Minute),
			BatchSize: GetEnvAsInt("POLL_BATCH_SIZE", 50),
			AutoStart: GetEnvAsBool("AUTO_START_SCHEDULER", true),
		},
		Alert: AlertConfig{
			WebhookURL:     GetEnv("ALERT_WEBHOOK_URL", ""),
			IterationCount: GetEnvAsInt("ALERT_ITERATION_COUNT", 0),
			Timeout:        GetEnvAsDuration("ALERT_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			MessagesAPIKey:  GetEnv("MESSAGES_API_KEY", ""),
			SchedulerAPIKey: GetEnv("SCHEDULER_API_KEY", ""),
		},
		LogLevel: GetEnv("LOG_LEVEL", "info"),
	}
}

// Validate reports the first configuration problem, naming the variable to fix.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql or sqlite, got %q", c.Database.Driver)
	}

	if c.Poller.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.Poller.BatchSize <= 0 {
		return fmt.Errorf("POLL_BATCH_SIZE must be > 0")
	}

	switch c.Mail.Provider {
	case "smtp":
		if c.Mail.SMTPUsername == "" || c.Mail.SMTPPassword == "" {
			return fmt.Errorf("EMAIL_ADDRESS and EMAIL_PASSWORD are required for MAIL_PROVIDER=smtp")
		}
	case "resend":
		if c.Mail.ResendAPIKey == "" {
			return fmt.Errorf("RESEND_API_KEY is required for MAIL_PROVIDER=resend")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("MAIL_FROM is required for MAIL_PROVIDER=resend")
		}
	case "log":
	default:
		return fmt.Errorf("MAIL_PROVIDER must be smtp, resend or log, got %q", c.Mail.Provider)
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.UploadFolder == "" {
			return fmt.Errorf("UPLOAD_FOLDER must not be empty")
		}
	case "s3":
		if c.Storage.S3Bucket == "" || c.Storage.S3Endpoint == "" {
			return fmt.Errorf("S3_BUCKET and S3_ENDPOINT are required for STORAGE_DRIVER=s3")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be local or s3, got %q", c.Storage.Driver)
	}

	if c.Storage.MaxAttachmentBytes <= 0 {
		return fmt.Errorf("MAX_ATTACHMENT_BYTES must be > 0")
	}

	return nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration accepts Go durations ("90s", "2m") and bare integers as seconds.
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
