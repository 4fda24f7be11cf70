package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/Dosada05/club-engine/models"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	StorageDriver  string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	JWTSecretKey       string     `env:"JWT_SECRET_KEY,notEmpty"`
	CheckInQRSecret    string     `env:"CHECKIN_QR_SECRET"`
	ServerPort         int        `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel           slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	CORSAllowedOrigins []string   `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	PointsTable       models.PointsTable `env:"POINTS_TABLE"`
	RSVPMaxRetries    int                `env:"RSVP_MAX_RETRIES" envDefault:"5"`
	RedisURL          string             `env:"REDIS_URL"`
	StandingsCacheTTL time.Duration      `env:"STANDINGS_CACHE_TTL" envDefault:"5m"`

	// Cloudflare R2. Либо все обязательные поля заданы, либо ни одного.
	R2AccountID       string `env:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `env:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `env:"R2_BUCKET_NAME"`
	R2PublicBaseURL   string `env:"R2_PUBLIC_BASE_URL"`
	ArtifactDir       string `env:"ARTIFACT_DIR" envDefault:"./artifacts"`

	GoogleServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
}

// R2Enabled сообщает, настроено ли хранилище артефактов в R2.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	// Загружаем .env файл, если он есть. Ошибку не считаем фатальной.
	_ = godotenv.Load()

	var cfg Config
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(models.PointsTable{}): func(v string) (interface{}, error) {
				return ParsePointsTable(v)
			},
		},
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.CheckInQRSecret == "" {
		cfg.CheckInQRSecret = cfg.JWTSecretKey
	}
	if cfg.PointsTable == nil {
		cfg.PointsTable = models.DefaultPointsTable()
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL environment variable is not set")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q (want %s or %s)", c.StorageDriver, StorageDriverPostgres, StorageDriverMemory)
	}

	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	if c.RSVPMaxRetries < 1 {
		return fmt.Errorf("RSVP_MAX_RETRIES must be positive, got %d", c.RSVPMaxRetries)
	}
	if c.StandingsCacheTTL <= 0 {
		return fmt.Errorf("STANDINGS_CACHE_TTL must be positive, got %s", c.StandingsCacheTTL)
	}

	r2Set := 0
	for _, v := range []string{c.R2AccountID, c.R2AccessKeyID, c.R2SecretAccessKey, c.R2BucketName} {
		if v != "" {
			r2Set++
		}
	}
	if r2Set != 0 && r2Set != 4 {
		return errors.New("R2_ACCOUNT_ID, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY and R2_BUCKET_NAME must be set together")
	}
	return nil
}

// ParsePointsTable разбирает строку вида "1:25,2:18,3:15".
func ParsePointsTable(raw string) (models.PointsTable, error) {
	table := models.PointsTable{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		posStr, ptsStr, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid points table entry %q: want position:points", pair)
		}
		pos, err := strconv.Atoi(strings.TrimSpace(posStr))
		if err != nil || pos < 1 {
			return nil, fmt.Errorf("invalid position in points table entry %q", pair)
		}
		pts, err := strconv.Atoi(strings.TrimSpace(ptsStr))
		if err != nil || pts < 0 {
			return nil, fmt.Errorf("invalid points in points table entry %q", pair)
		}
		if _, dup := table[pos]; dup {
			return nil, fmt.Errorf("duplicate position %d in points table", pos)
		}
		table[pos] = pts
	}
	if len(table) == 0 {
		return nil, errors.New("points table is empty")
	}
	return table, nil
}
