package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	// Durable store
	VaultPath string

	// Download engine
	DownloadsDir    string
	ImageQuality    string
	WorkerCount     int
	ManifestTimeout time.Duration

	// Redis manifest cache (optional)
	RedisAddr        string
	ManifestCacheTTL time.Duration

	// External OCR service (optional)
	OCRServiceURL string

	// Object storage archive (optional)
	ArchiveEnabled bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UsePathStyle bool
}

func Load() *Config {
	workerCount, _ := strconv.Atoi(getEnvOrDefault("WORKER_COUNT", "4"))
	if workerCount <= 0 {
		workerCount = 4
	}

	cacheTTL, _ := strconv.Atoi(getEnvOrDefault("MANIFEST_CACHE_TTL_SECONDS", "3600"))
	manifestTimeout, _ := strconv.Atoi(getEnvOrDefault("MANIFEST_TIMEOUT_SECONDS", "20"))

	archiveEnabled, _ := strconv.ParseBool(getEnvOrDefault("ARCHIVE_ENABLED", "false"))
	minioUseSSL, _ := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", "false"))
	s3UsePathStyle, _ := strconv.ParseBool(getEnvOrDefault("S3_USE_PATH_STYLE", "true"))

	return &Config{
		ServerAddr:      getEnvOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		VaultPath:       getEnvOrDefault("VAULT_PATH", "data/vault.db"),
		DownloadsDir:    getEnvOrDefault("DOWNLOADS_DIR", "downloads"),
		ImageQuality:    getEnvOrDefault("IMAGE_QUALITY", "full"),
		WorkerCount:     workerCount,
		ManifestTimeout: time.Duration(manifestTimeout) * time.Second,

		RedisAddr:        getEnvOrDefault("REDIS_ADDR", ""),
		ManifestCacheTTL: time.Duration(cacheTTL) * time.Second,

		OCRServiceURL: getEnvOrDefault("OCR_SERVICE_URL", ""),

		ArchiveEnabled: archiveEnabled,
		MinioEndpoint:  getEnvOrDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnvOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnvOrDefault("MINIO_BUCKET", "manuscripts"),
		MinioUseSSL:    minioUseSSL,

		S3Region:       getEnvOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:     getEnvOrDefault("S3_ENDPOINT", ""),
		S3AccessKey:    getEnvOrDefault("S3_ACCESS_KEY", getEnvOrDefault("MINIO_ACCESS_KEY", "minioadmin")),
		S3SecretKey:    getEnvOrDefault("S3_SECRET_KEY", getEnvOrDefault("MINIO_SECRET_KEY", "minioadmin")),
		S3Bucket:       getEnvOrDefault("S3_BUCKET", getEnvOrDefault("MINIO_BUCKET", "manuscripts")),
		S3UsePathStyle: s3UsePathStyle,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
