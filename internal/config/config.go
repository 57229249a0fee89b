package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"kajabook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Session    SessionConfig    `yaml:"session"`
	Booking    BookingConfig    `yaml:"booking"`
	Typing     TypingConfig     `yaml:"typing"`
	Reminders  ReminderConfig   `yaml:"reminders"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Google     GoogleConfig     `yaml:"google"`
	Events     EventsConfig     `yaml:"events"`
	Exports    ExportConfig     `yaml:"exports"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

// APIAuthConfig guards the admin surface with API keys.
type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// Allows reports whether the key grants perm. An empty permission list grants everything.
func (k APIClientKey) Allows(perm string) bool {
	if perm == "" || len(k.Permissions) == 0 {
		return true
	}
	for _, p := range k.Permissions {
		if strings.TrimSpace(p) == perm {
			return true
		}
	}
	return false
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type SessionConfig struct {
	Secret     string        `yaml:"secret"`
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
}

type BookingConfig struct {
	Timezone        string        `yaml:"timezone"`
	GridStepMin     int           `yaml:"grid_step_min"`
	LessonMin       int           `yaml:"lesson_min"`
	LockBackend     string        `yaml:"lock_backend"` // memory, redis
	LockTTL         time.Duration `yaml:"lock_ttl"`
	ListLimit       int           `yaml:"list_limit"`
	CancelNotice    time.Duration `yaml:"cancel_notice"`    // member self-cancel cutoff before start
	MeetingProvider string        `yaml:"meeting_provider"` // kaja, google_meet
}

type TypingConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Backend string        `yaml:"backend"` // memory, redis
}

type ReminderConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken     string  `yaml:"bot_token"`
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`
	Debug        bool    `yaml:"debug"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// GoogleConfig enables Google Meet scheduling through Calendar. Either a
// service account file or an OAuth client with a refresh token is used.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	RefreshToken    string `yaml:"refresh_token"`
	CalendarID      string `yaml:"calendar_id"`
	Endpoint        string `yaml:"endpoint"`
}

func (c GoogleConfig) Enabled() bool {
	return c.CredentialsFile != "" || c.RefreshToken != ""
}

// EventsConfig forwards domain events to a RabbitMQ topic exchange when URL is set.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}

	switch c.Booking.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("booking.lock_backend must be memory or redis, got %q", c.Booking.LockBackend)
	}
	if c.Booking.LockBackend == "redis" && c.Redis.Address == "" {
		return errors.New("booking.lock_backend=redis requires redis.address")
	}

	switch c.Booking.MeetingProvider {
	case models.MeetingProviderKaja:
	case models.MeetingProviderGoogleMeet:
		if !c.Google.Enabled() {
			return errors.New("booking.meeting_provider=google_meet requires google credentials")
		}
	default:
		return fmt.Errorf("booking.meeting_provider must be kaja or google_meet, got %q", c.Booking.MeetingProvider)
	}

	switch c.Typing.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("typing.backend must be memory or redis, got %q", c.Typing.Backend)
	}

	if c.Booking.LessonMin > c.Booking.GridStepMin {
		return fmt.Errorf("booking.lesson_min (%d) must not exceed grid_step_min (%d)", c.Booking.LessonMin, c.Booking.GridStepMin)
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

// ValidateAPIKeys rejects empty or duplicate admin keys.
func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' has empty key", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key found for '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "kajabook"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Session.CookieName == "" {
		c.Session.CookieName = "kaja_session"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 30 * 24 * time.Hour
	}

	if c.Booking.Timezone == "" {
		c.Booking.Timezone = models.DefaultTimezone
	}
	if c.Booking.GridStepMin == 0 {
		c.Booking.GridStepMin = models.GridStepMin
	}
	if c.Booking.LessonMin == 0 {
		c.Booking.LessonMin = models.LessonMin
	}
	if c.Booking.LockBackend == "" {
		c.Booking.LockBackend = "memory"
	}
	if c.Booking.LockTTL == 0 {
		c.Booking.LockTTL = 10 * time.Second
	}
	if c.Booking.ListLimit == 0 {
		c.Booking.ListLimit = models.DefaultListLimit
	}
	if c.Booking.CancelNotice == 0 {
		c.Booking.CancelNotice = time.Hour
	}
	if c.Booking.MeetingProvider == "" {
		c.Booking.MeetingProvider = models.MeetingProviderKaja
	}

	if c.Typing.TTL == 0 {
		c.Typing.TTL = models.TypingTTL
	}
	if c.Typing.Backend == "" {
		c.Typing.Backend = "memory"
	}

	if c.Reminders.Interval == 0 {
		c.Reminders.Interval = models.DefaultReminderInterval
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "kajabook.events"
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
}

// Location returns the business time zone; Validate guarantees it loads.
func (c BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
