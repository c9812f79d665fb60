package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Export   ExportConfig
	Logging  LoggingConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
	Webhook  WebhookConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	JWTSecret       string
	RateLimitRPS    int
	RateLimitBurst  int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	PresignExpiry   time.Duration
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	Vhost     string
	QueueName string
}

// ExportConfig holds clip export configuration
type ExportConfig struct {
	TempDir         string
	FFmpegPath      string
	FFprobePath     string
	SeekCushion     float64
	VideoCodec      string
	Preset          string
	CRF             int
	AudioCodec      string
	AudioBitrate    string
	CaptionStrategy string // auto, text, raster
	FontURL         string
	FontPath        string
	FontCacheDir    string
	JobTimeout      time.Duration
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	AgentHost   string
	AgentPort   int
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// WebhookConfig holds completion notification configuration
type WebhookConfig struct {
	URL        string
	Secret     string
	MaxRetries int
	Timeout    time.Duration
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment only.
// Environment variables use the VERTICUT_ prefix, e.g. VERTICUT_EXPORT_CRF.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("verticut")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that would only fail much later at runtime
func (c *Config) Validate() error {
	switch c.Export.CaptionStrategy {
	case "auto", "text", "raster":
	default:
		return fmt.Errorf("invalid export.captionStrategy %q: want auto, text or raster", c.Export.CaptionStrategy)
	}
	if c.Export.CRF < 0 || c.Export.CRF > 51 {
		return fmt.Errorf("invalid export.crf %d: want 0-51", c.Export.CRF)
	}
	if c.Export.SeekCushion < 0 {
		return fmt.Errorf("invalid export.seekCushion %v: must not be negative", c.Export.SeekCushion)
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode, c.MaxConns, c.MinConns)
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// URL returns the AMQP connection URL
func (c QueueConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, c.Vhost)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "5m")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.maxUploadBytes", 2<<30) // 2GB
	v.SetDefault("server.jwtSecret", "")
	v.SetDefault("server.rateLimitRPS", 5)
	v.SetDefault("server.rateLimitBurst", 10)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "verticut")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "clips")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.presignExpiry", "1h")

	// Queue defaults
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.queueName", "export_jobs")

	// Export defaults
	v.SetDefault("export.tempDir", "/tmp/verticut")
	v.SetDefault("export.ffmpegPath", "ffmpeg")
	v.SetDefault("export.ffprobePath", "ffprobe")
	v.SetDefault("export.seekCushion", 3.0)
	v.SetDefault("export.videoCodec", "libx264")
	v.SetDefault("export.preset", "fast")
	v.SetDefault("export.crf", 20)
	v.SetDefault("export.audioCodec", "aac")
	v.SetDefault("export.audioBitrate", "160k")
	v.SetDefault("export.captionStrategy", "auto")
	v.SetDefault("export.fontURL", "https://cdn.jsdelivr.net/fontsource/fonts/inter@latest/latin-700-normal.ttf")
	v.SetDefault("export.fontPath", "")
	v.SetDefault("export.fontCacheDir", "/tmp/verticut/fonts")
	v.SetDefault("export.jobTimeout", "30m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "verticut")
	v.SetDefault("tracing.agentHost", "localhost")
	v.SetDefault("tracing.agentPort", 6831)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)

	// Webhook defaults
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.maxRetries", 3)
	v.SetDefault("webhook.timeout", "10s")
}
