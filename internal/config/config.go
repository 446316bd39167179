package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"contractor-status-relay/internal/credential"
)

// Mail backend modes.
const (
	BackendAuto    = "auto"
	BackendOAuth   = "oauth"
	BackendLocal   = "local"
	BackendFixture = "fixture"
)

// Backends lists every accepted value of mail.backend.
var Backends = []string{BackendAuto, BackendOAuth, BackendLocal, BackendFixture}

const (
	DefaultLookbackMinutes = 1440
	DefaultMaxMessages     = 50
)

// Config holds all configuration for the application
type Config struct {
	LogLevel    string            `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Mail        MailConfig        `mapstructure:"mail"`
	OAuth       OAuthConfig       `mapstructure:"oauth"`
	Local       LocalConfig       `mapstructure:"local"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// MailConfig selects the mail backend and the message filters. The numeric
// filters are kept as text so that bad input can fall back to defaults.
type MailConfig struct {
	Backend         string `mapstructure:"backend"`
	UseFixtures     bool   `mapstructure:"use_fixtures"`
	Folder          string `mapstructure:"folder"`
	LookbackMinutes string `mapstructure:"lookback_minutes"`
	MaxMessages     string `mapstructure:"max_messages"`
}

// OAuthConfig holds the token backend credentials.
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	Mailbox      string `mapstructure:"mailbox"`
	Endpoint     string `mapstructure:"endpoint"`
}

// LocalConfig points at the IMAP bridge exposed by the desktop mail client.
type LocalConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      string `mapstructure:"tls"`
}

// TelegramConfig holds the chat bot destination.
type TelegramConfig struct {
	Token   string        `mapstructure:"token"`
	ChatID  string        `mapstructure:"chat_id"`
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	DelayMinutes    int  `mapstructure:"delay_minutes"`
	DryRun          bool `mapstructure:"dry_run"`
	NotifyEnabled   bool `mapstructure:"notify_enabled"`
}

// CredentialsConfig controls the OS keyring fallback for secrets.
type CredentialsConfig struct {
	Keyring bool `mapstructure:"keyring"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"mail-backend": "mail.backend",
	"fake-mail":    "mail.use_fixtures",
	"db-path":      "database.path",
	"port":         "server.port",
}

// LoadConfig loads configuration from .env, config file, environment variables
// and, when given, command line flags.
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("Failed to load .env file: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Mail.Backend = strings.ToLower(strings.TrimSpace(cfg.Mail.Backend))

	if cfg.Credentials.Keyring {
		cfg.fillSecrets(credential.Lookup)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/requests.sqlite3")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("mail.backend", BackendAuto)
	v.SetDefault("mail.use_fixtures", false)
	v.SetDefault("mail.folder", "")
	v.SetDefault("mail.lookback_minutes", strconv.Itoa(DefaultLookbackMinutes))
	v.SetDefault("mail.max_messages", strconv.Itoa(DefaultMaxMessages))

	v.SetDefault("oauth.mailbox", "me")

	v.SetDefault("local.host", "127.0.0.1")
	v.SetDefault("local.port", 1143)
	v.SetDefault("local.tls", "none")

	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "10s")

	v.SetDefault("scheduler.interval_minutes", 5)
	v.SetDefault("scheduler.delay_minutes", 60)
	v.SetDefault("scheduler.dry_run", false)
	v.SetDefault("scheduler.notify_enabled", true)

	v.SetDefault("credentials.keyring", false)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	bindings := [][2]string{
		{"log_level", "LOG_LEVEL"},

		// Server
		{"server.port", "SERVER_PORT"},
		{"server.read_timeout", "SERVER_READ_TIMEOUT"},
		{"server.write_timeout", "SERVER_WRITE_TIMEOUT"},

		// Database
		{"database.driver", "DB_DRIVER"},
		{"database.path", "DB_PATH"},
		{"database.host", "DB_HOST"},
		{"database.port", "DB_PORT"},
		{"database.user", "DB_USER"},
		{"database.password", "DB_PASSWORD"},
		{"database.dbname", "DB_NAME"},

		// Mail
		{"mail.backend", "MAIL_BACKEND"},
		{"mail.use_fixtures", "MAIL_USE_FIXTURES"},
		{"mail.folder", "MAIL_FOLDER"},
		{"mail.lookback_minutes", "MAIL_LOOKBACK_MINUTES"},
		{"mail.max_messages", "MAIL_MAX_MESSAGES"},

		// Token backend
		{"oauth.client_id", "OAUTH_CLIENT_ID"},
		{"oauth.client_secret", "OAUTH_CLIENT_SECRET"},
		{"oauth.refresh_token", "OAUTH_REFRESH_TOKEN"},
		{"oauth.mailbox", "OAUTH_MAILBOX"},
		{"oauth.endpoint", "OAUTH_ENDPOINT"},

		// Local mail client bridge
		{"local.host", "LOCAL_MAIL_HOST"},
		{"local.port", "LOCAL_MAIL_PORT"},
		{"local.username", "LOCAL_MAIL_USERNAME"},
		{"local.password", "LOCAL_MAIL_PASSWORD"},
		{"local.tls", "LOCAL_MAIL_TLS"},

		// Telegram
		{"telegram.token", "TELEGRAM_TOKEN"},
		{"telegram.chat_id", "TELEGRAM_CHAT_ID"},
		{"telegram.api_url", "TELEGRAM_API_URL"},
		{"telegram.timeout", "TELEGRAM_TIMEOUT"},

		// Scheduler
		{"scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES"},
		{"scheduler.delay_minutes", "SCHEDULER_DELAY_MINUTES"},
		{"scheduler.dry_run", "SCHEDULER_DRY_RUN"},
		{"scheduler.notify_enabled", "SCHEDULER_NOTIFY_ENABLED"},

		{"credentials.keyring", "CREDENTIALS_KEYRING"},
	}
	for _, b := range bindings {
		_ = v.BindEnv(b[0], b[1])
	}
}

// fillSecrets resolves empty secrets through lookup.
func (c *Config) fillSecrets(lookup func(key string) (string, bool)) {
	secrets := []struct {
		key   string
		value *string
	}{
		{"oauth.client_secret", &c.OAuth.ClientSecret},
		{"oauth.refresh_token", &c.OAuth.RefreshToken},
		{"local.password", &c.Local.Password},
		{"telegram.token", &c.Telegram.Token},
		{"database.password", &c.Database.Password},
	}
	for _, s := range secrets {
		if *s.value != "" {
			continue
		}
		if value, ok := lookup(s.key); ok {
			*s.value = value
		}
	}
}

// GetDSN returns the MySQL connection string. Times are stored in UTC and
// updates report matched rather than changed rows.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port == "" {
		problems = append(problems, "server port is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			problems = append(problems, "database path is required for sqlite")
		}
	case "mysql":
		var missing []string
		if c.Database.Host == "" {
			missing = append(missing, "host")
		}
		if c.Database.User == "" {
			missing = append(missing, "user")
		}
		if c.Database.DBName == "" {
			missing = append(missing, "dbname")
		}
		if len(missing) > 0 {
			problems = append(problems, "database "+strings.Join(missing, ", ")+" required for mysql")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if !slices.Contains(Backends, c.Mail.Backend) {
		problems = append(problems, fmt.Sprintf("mail backend %q must be one of %s", c.Mail.Backend, strings.Join(Backends, ", ")))
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		problems = append(problems, "scheduler interval must be greater than 0")
	}
	if c.Scheduler.DelayMinutes <= 0 {
		problems = append(problems, "delay threshold must be greater than 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LookbackWindow returns the lookback window in minutes.
func (m MailConfig) LookbackWindow() int {
	return positiveInt("mail.lookback_minutes", m.LookbackMinutes, DefaultLookbackMinutes)
}

// MessageLimit returns how many messages a backend may return in one pass.
func (m MailConfig) MessageLimit() int {
	return positiveInt("mail.max_messages", m.MaxMessages, DefaultMaxMessages)
}

// FolderPath splits the slash separated folder setting, dropping empty parts.
func (m MailConfig) FolderPath() []string {
	var path []string
	for _, part := range strings.Split(m.Folder, "/") {
		if part = strings.TrimSpace(part); part != "" {
			path = append(path, part)
		}
	}
	return path
}

func positiveInt(key, raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithField("key", key).Warnf("Invalid numeric value %q, using default %d", raw, fallback)
		return fallback
	}
	return max(value, 1)
}

// MissingFields lists the token backend settings that are not set.
func (o OAuthConfig) MissingFields() []string {
	var missing []string
	if o.ClientID == "" {
		missing = append(missing, "oauth.client_id")
	}
	if o.ClientSecret == "" {
		missing = append(missing, "oauth.client_secret")
	}
	if o.RefreshToken == "" {
		missing = append(missing, "oauth.refresh_token")
	}
	return missing
}

// MissingFields lists the local bridge settings that are not set.
func (l LocalConfig) MissingFields() []string {
	var missing []string
	if l.Host == "" {
		missing = append(missing, "local.host")
	}
	if l.Port <= 0 {
		missing = append(missing, "local.port")
	}
	if l.Username == "" {
		missing = append(missing, "local.username")
	}
	return missing
}

// Configured reports whether messages can actually be delivered.
func (t TelegramConfig) Configured() bool {
	return t.Token != "" && t.ChatID != ""
}
