package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pitchmail/models"
)

type RedisConfig struct {
	Enabled  bool   `env:"ENABLED"  envDefault:"false"`
	Address  string `env:"ADDRESS"  envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"       envDefault:"0"`
}

type ZohoConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RefreshToken string `env:"REFRESH_TOKEN"`
	APIBaseURL   string `env:"API_BASE_URL" envDefault:"https://www.zohoapis.com"`
	TokenURL     string `env:"TOKEN_URL"    envDefault:"https://accounts.zoho.com/oauth/v2/token"`
	PageSize     int    `env:"PAGE_SIZE"    envDefault:"200"`
}

// Enabled reports whether remote views can be read.
func (z ZohoConfig) Enabled() bool {
	return z.ClientID != "" && z.ClientSecret != "" && z.RefreshToken != ""
}

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort  string `env:"SERVER_PORT" envDefault:"5000"`
	LogLevel    string `env:"LOG_LEVEL"   envDefault:"info"`
	SentryDSN   string `env:"SENTRY_DSN"`

	DBDriver       string `env:"DB_DRIVER"         envDefault:"postgres"`
	DBHost         string `env:"DB_HOST"           envDefault:"localhost"`
	DBPort         string `env:"DB_PORT"           envDefault:"5432"`
	DBUser         string `env:"DB_USER"           envDefault:"postgres"`
	DBPassword     string `env:"DB_PASSWORD"`
	DBName         string `env:"DB_NAME"           envDefault:"pitchmail"`
	DBSSLMode      string `env:"DB_SSL_MODE"       envDefault:"disable"`
	DBMaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"100"`

	EncryptionKey string `env:"ENCRYPTION_KEY"`

	TrackingBaseURL   string        `env:"TRACKING_BASE_URL"   envDefault:"http://localhost:5000"`
	SchedulerEnabled  bool          `env:"SCHEDULER_ENABLED"   envDefault:"true"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL"  envDefault:"20s"`
	ClickDwellWindow  time.Duration `env:"CLICK_DWELL_WINDOW"  envDefault:"20s"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT"    envDefault:"30s"`
	SourceTimeout     time.Duration `env:"SOURCE_TIMEOUT"      envDefault:"2m"`
	SendMaxAttempts   int           `env:"SEND_MAX_ATTEMPTS"   envDefault:"3"`
	BccDisplayAddress string        `env:"BCC_DISPLAY_ADDRESS" envDefault:"noreply@localhost"`
	AuditPageSize     int           `env:"AUDIT_PAGE_SIZE"     envDefault:"1000"`
	APIRateLimit      int           `env:"API_RATE_LIMIT"      envDefault:"120"`

	Zoho    ZohoConfig  `envPrefix:"ZOHO_"`
	Redis   RedisConfig `envPrefix:"REDIS_"`
	AMQPURL string      `env:"AMQP_URL"`
}

// LoadConfig reads .env when present and parses the environment.
func LoadConfig() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logConfig(cfg)
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes, got %d", len(c.EncryptionKey))
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	if c.SourceTimeout < c.UpstreamTimeout {
		return fmt.Errorf("SOURCE_TIMEOUT must be at least UPSTREAM_TIMEOUT")
	}
	if c.Environment == "production" && c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required in production")
	}
	return nil
}

func (c *Config) dsn() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBSSLMode,
	)
}

// ConnectDB opens the postgres pool and migrates every model.
func ConnectDB(cfg *Config) (*gorm.DB, error) {
	log.Info("Attempting to connect to database...")

	dsn := cfg.dsn()
	log.WithField("dsn", maskPassword(dsn)).Debug("Using connection string")

	gormCfg := &gorm.Config{}
	if cfg.Environment == "production" {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Warn)
	}
	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("✅ Successfully connected to the database")

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	log.Info("✅ Database migration completed")
	return db, nil
}

// NewRedisClient returns nil when redis is disabled.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig(cfg *Config) {
	log.WithFields(log.Fields{
		"environment":   cfg.Environment,
		"port":          cfg.ServerPort,
		"db_driver":     cfg.DBDriver,
		"database":      fmt.Sprintf("%s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName),
		"scheduler":     cfg.SchedulerEnabled,
		"interval":      cfg.SchedulerInterval.String(),
		"remote_views":  cfg.Zoho.Enabled(),
		"redis":         cfg.Redis.Enabled,
		"amqp":          cfg.AMQPURL != "",
		"encrypted_pwd": cfg.EncryptionKey != "",
	}).Info("🔧 Loaded configuration")
}
