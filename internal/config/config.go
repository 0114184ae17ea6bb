package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Valkey    ValkeyConfig
	MinIO     MinIOConfig
	S3        S3Config
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Download  DownloadConfig
	// CatalogPath is the YAML file declaring groups and pipelines.
	CatalogPath string
	// ArtifactDir keeps product artifacts on a local filesystem instead of
	// the MinIO bucket when set.
	ArtifactDir string
	// APIURL is where eomatctl reaches the admin API.
	APIURL string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ValkeyConfig struct {
	Addr     string
	Password string
	DB       int
	// ClientName is reported by CLIENT LIST so API, scheduler and worker
	// connections can be told apart.
	ClientName  string
	DialTimeout time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type S3Config struct {
	Region   string // S3_REGION
	Endpoint string // S3_ENDPOINT (for MinIO/LocalStack compatibility)
}

type WorkerConfig struct {
	ConsumerID string
	// DataDir holds downloaded sources under <group>/<filename>.
	DataDir         string
	ScratchDir      string
	DownloadWorkers int
	ProcessWorkers  int
	// MetricsAddr serves /metrics for the worker and scheduler processes.
	MetricsAddr string
}

type SchedulerConfig struct {
	SweepInterval    time.Duration
	SweepBatch       int
	DispatchRate     float64 // jobs per second, 0 = unlimited
	DownloadInterval time.Duration
	DownloadBatch    int
	PromoteInterval  time.Duration
	// DiscoveryInterval re-crawls every discoverable group. Zero disables.
	DiscoveryInterval time.Duration
}

type DownloadConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	HTTPTimeout time.Duration
	// KnownHosts is the SSH known_hosts file for sftp sources. Empty
	// disables host key verification.
	KnownHosts string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	host, _ := os.Hostname()
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT_SECS", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT_SECS", 60)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "eomat"),
			Password: getEnv("DB_PASSWORD", "eomat"),
			Name:     getEnv("DB_NAME", "eomat"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 5)),
		},
		Valkey: ValkeyConfig{
			Addr:        getEnv("VALKEY_ADDR", "localhost:6379"),
			Password:    getEnv("VALKEY_PASSWORD", ""),
			DB:          getEnvInt("VALKEY_DB", 0),
			ClientName:  getEnv("VALKEY_CLIENT_NAME", "eomat"),
			DialTimeout: getEnvDuration("VALKEY_DIAL_TIMEOUT", 5*time.Second),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "eomat"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "eomat123"),
			Bucket:    getEnv("MINIO_BUCKET", "eomat-products"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		S3: S3Config{
			Region:   getEnv("S3_REGION", "us-east-1"),
			Endpoint: getEnv("S3_ENDPOINT", ""),
		},
		Worker: WorkerConfig{
			ConsumerID:      getEnv("WORKER_ID", "worker-"+host),
			DataDir:         getEnv("DATA_DIR", "/var/lib/eomat/sources"),
			ScratchDir:      getEnv("SCRATCH_DIR", os.TempDir()),
			DownloadWorkers: getEnvInt("DOWNLOAD_WORKERS", 4),
			ProcessWorkers:  getEnvInt("PROCESS_WORKERS", 2),
			MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		},
		Scheduler: SchedulerConfig{
			SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
			SweepBatch:        getEnvInt("SWEEP_BATCH", 100),
			DispatchRate:      getEnvFloat("DISPATCH_RATE", 0),
			DownloadInterval:  getEnvDuration("DOWNLOAD_SWEEP_INTERVAL", time.Minute),
			DownloadBatch:     getEnvInt("DOWNLOAD_SWEEP_BATCH", 200),
			PromoteInterval:   getEnvDuration("RETRY_PROMOTE_INTERVAL", 5*time.Second),
			DiscoveryInterval: getEnvDuration("DISCOVERY_INTERVAL", time.Hour),
		},
		Download: DownloadConfig{
			MaxAttempts: getEnvInt("DOWNLOAD_MAX_ATTEMPTS", 100),
			RetryDelay:  getEnvDuration("DOWNLOAD_RETRY_DELAY", 5*time.Minute),
			HTTPTimeout: getEnvDuration("DOWNLOAD_HTTP_TIMEOUT", 30*time.Minute),
			KnownHosts:  getEnv("SFTP_KNOWN_HOSTS", ""),
		},
		CatalogPath: getEnv("CATALOG_PATH", "catalog.yaml"),
		ArtifactDir: getEnv("ARTIFACT_DIR", ""),
		APIURL:      getEnv("EOMAT_API_URL", "http://localhost:8080"),
	}
	if cfg.Download.MaxAttempts < 1 {
		return nil, fmt.Errorf("DOWNLOAD_MAX_ATTEMPTS must be >= 1, got %d", cfg.Download.MaxAttempts)
	}
	for _, iv := range []struct {
		key string
		d   time.Duration
	}{
		{"SWEEP_INTERVAL", cfg.Scheduler.SweepInterval},
		{"DOWNLOAD_SWEEP_INTERVAL", cfg.Scheduler.DownloadInterval},
		{"RETRY_PROMOTE_INTERVAL", cfg.Scheduler.PromoteInterval},
	} {
		if iv.d <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %v", iv.key, iv.d)
		}
	}
	if cfg.Scheduler.DiscoveryInterval < 0 {
		return nil, fmt.Errorf("DISCOVERY_INTERVAL must not be negative, got %v", cfg.Scheduler.DiscoveryInterval)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
