package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseDriver string
	DatabaseDSN    string

	StorageBackend string
	UploadDir      string
	MinIO          MinIOConfig

	RoomQuotaBytes int64
	MaxFileBytes   int64

	RoomIdleTTL         time.Duration
	ActiveTicketTTL     time.Duration
	ResolvedTicketTTL   time.Duration
	RoomSweepInterval   time.Duration
	TicketSweepInterval time.Duration
	PingInterval        time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
	StaticDir      string
}

// MinIOConfig 仅在 STORAGE_BACKEND=minio 时使用。
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

const (
	defaultRoomQuota = 2 << 30
	defaultMaxFile   = 1 << 30
)

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getBytes(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := humanize.ParseBytes(v)
	if err != nil || n == 0 {
		return def
	}
	return int64(n)
}

func getInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load 读取 .env（可选）与环境变量，缺失或非法的值回退到默认值。
func Load() Config {
	_ = godotenv.Load()

	useSSL, _ := strconv.ParseBool(getenv("MINIO_USE_SSL", "false"))
	return Config{
		Port:           getenv("APP_PORT", "8080"),
		Env:            getenv("APP_ENV", "dev"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		DatabaseDriver: getenv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getenv("DATABASE_DSN", "ticketboard.db"),
		StorageBackend: getenv("STORAGE_BACKEND", "disk"),
		UploadDir:      getenv("UPLOAD_DIR", "uploads"),
		MinIO: MinIOConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getenv("MINIO_BUCKET", "ticketboard"),
			UseSSL:    useSSL,
		},
		RoomQuotaBytes:      getBytes("ROOM_QUOTA", defaultRoomQuota),
		MaxFileBytes:        getBytes("MAX_FILE_SIZE", defaultMaxFile),
		RoomIdleTTL:         getDuration("ROOM_IDLE_TTL", 30*time.Minute),
		ActiveTicketTTL:     getDuration("ACTIVE_TICKET_TTL", 3*time.Hour+10*time.Minute),
		ResolvedTicketTTL:   getDuration("RESOLVED_TICKET_TTL", time.Hour),
		RoomSweepInterval:   getDuration("ROOM_SWEEP_INTERVAL", 5*time.Minute),
		TicketSweepInterval: getDuration("TICKET_SWEEP_INTERVAL", time.Minute),
		PingInterval:        getDuration("WS_PING_INTERVAL", 30*time.Second),
		RateLimitRPS:        getFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:      getInt("RATE_LIMIT_BURST", 40),
		CORSOrigins:         splitList(os.Getenv("CORS_ORIGINS")),
		StaticDir:           getenv("STATIC_DIR", "web"),
	}
}

// Validate 在启动阶段拒绝无法运行的配置。
func Validate(cfg Config) error {
	var errs []error
	if cfg.Port == "" {
		errs = append(errs, errors.New("APP_PORT is empty"))
	}
	switch cfg.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver))
	}
	if cfg.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is empty"))
	}
	switch cfg.StorageBackend {
	case "disk":
		if cfg.UploadDir == "" {
			errs = append(errs, errors.New("UPLOAD_DIR is empty"))
		}
	case "minio":
		m := cfg.MinIO
		if m.Endpoint == "" || m.Bucket == "" || m.AccessKey == "" || m.SecretKey == "" {
			errs = append(errs, errors.New("minio backend needs MINIO_ENDPOINT, MINIO_BUCKET, MINIO_ACCESS_KEY and MINIO_SECRET_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend))
	}
	if cfg.RoomQuotaBytes <= 0 {
		errs = append(errs, errors.New("ROOM_QUOTA must be positive"))
	}
	if cfg.MaxFileBytes <= 0 || cfg.MaxFileBytes > cfg.RoomQuotaBytes {
		errs = append(errs, errors.New("MAX_FILE_SIZE must be positive and not exceed ROOM_QUOTA"))
	}
	durations := map[string]time.Duration{
		"ROOM_IDLE_TTL":         cfg.RoomIdleTTL,
		"ACTIVE_TICKET_TTL":     cfg.ActiveTicketTTL,
		"RESOLVED_TICKET_TTL":   cfg.ResolvedTicketTTL,
		"ROOM_SWEEP_INTERVAL":   cfg.RoomSweepInterval,
		"TICKET_SWEEP_INTERVAL": cfg.TicketSweepInterval,
		"WS_PING_INTERVAL":      cfg.PingInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}
