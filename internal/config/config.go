// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is shared by the api and worker binaries; each reads what it needs.
type Config struct {
	HTTPPort     string `mapstructure:"HTTP_PORT"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	LogFormat    string `mapstructure:"LOG_FORMAT"`
	LogSource    bool   `mapstructure:"LOG_SOURCE"`
	SecretKey    string `mapstructure:"SECRET_KEY"`
	CORSOrigins  string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	MaxUploadMiB int64  `mapstructure:"MAX_UPLOAD_MIB"`
	// SessionSecure marks the session cookie Secure; enable behind TLS.
	SessionSecure bool `mapstructure:"SESSION_COOKIE_SECURE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	QueueName     string `mapstructure:"JOB_QUEUE_NAME"`

	StorageProvider string `mapstructure:"STORAGE_PROVIDER"`
	StorageRoot     string `mapstructure:"STORAGE_LOCAL_ROOT"`
	WorkDir         string `mapstructure:"WORK_DIR"`
	CleanupLocal    bool   `mapstructure:"CLEANUP_LOCAL"`

	GDriveClientID     string `mapstructure:"GDRIVE_CLIENT_ID"`
	GDriveClientSecret string `mapstructure:"GDRIVE_CLIENT_SECRET"`
	GDriveRefreshToken string `mapstructure:"GDRIVE_REFRESH_TOKEN"`
	GDriveFolderID     string `mapstructure:"GDRIVE_FOLDER_ID"`

	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL    bool   `mapstructure:"S3_USE_SSL"`
	S3PathStyle bool   `mapstructure:"S3_PATH_STYLE"`

	// RendererMode selects the engine transport: "exec" or "http".
	RendererMode    string `mapstructure:"RENDERER_MODE"`
	RendererCmd     string `mapstructure:"RENDER_ENGINE_CMD"`
	RendererBaseURL string `mapstructure:"RENDERER_HTTP_BASEURL"`

	WorkerConcurrency int           `mapstructure:"WORKER_CONCURRENCY"`
	DownloadTTL       time.Duration `mapstructure:"DOWNLOAD_LINK_TTL"`
	ProgressRate      float64       `mapstructure:"PROGRESS_MAX_PER_SEC"`
	PlaceholderFile   string        `mapstructure:"PLACEHOLDER_FILE"`
}

var defaults = map[string]any{
	"HTTP_PORT":             "8080",
	"LOG_LEVEL":             "info",
	"LOG_FORMAT":            "json",
	"LOG_SOURCE":            false,
	"SECRET_KEY":            "",
	"CORS_ALLOWED_ORIGINS":  "http://localhost:5173",
	"MAX_UPLOAD_MIB":        512,
	"SESSION_COOKIE_SECURE": false,
	"REDIS_ADDR":            "",
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"JOB_QUEUE_NAME":        "scenerender:jobs",
	"STORAGE_PROVIDER":      "localfs",
	"STORAGE_LOCAL_ROOT":    "/data",
	"WORK_DIR":              "/tmp/scenerender",
	"CLEANUP_LOCAL":         true,
	"GDRIVE_CLIENT_ID":      "",
	"GDRIVE_CLIENT_SECRET":  "",
	"GDRIVE_REFRESH_TOKEN":  "",
	"GDRIVE_FOLDER_ID":      "",
	"S3_ENDPOINT":           "",
	"S3_REGION":             "",
	"S3_BUCKET":             "",
	"S3_ACCESS_KEY":         "",
	"S3_SECRET_KEY":         "",
	"S3_USE_SSL":            false,
	"S3_PATH_STYLE":         true,
	"RENDERER_MODE":         "exec",
	"RENDER_ENGINE_CMD":     "",
	"RENDERER_HTTP_BASEURL": "",
	"WORKER_CONCURRENCY":    1,
	"DOWNLOAD_LINK_TTL":     "10m",
	"PROGRESS_MAX_PER_SEC":  10.0,
	"PLACEHOLDER_FILE":      "placeholder/placeholder.glb",
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, def := range defaults {
		v.SetDefault(k, def)
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// RequireAPI checks the settings the api binary cannot start without.
func (c *Config) RequireAPI() error {
	values := map[string]string{
		"REDIS_ADDR": c.RedisAddr,
		"SECRET_KEY": c.SecretKey,
	}
	c.requireRenderer(values)
	return requireEnv(values)
}

// RequireWorker checks the settings the worker binary cannot start without.
func (c *Config) RequireWorker() error {
	values := map[string]string{"REDIS_ADDR": c.RedisAddr}
	c.requireRenderer(values)
	return requireEnv(values)
}

func (c *Config) requireRenderer(values map[string]string) {
	switch c.RendererMode {
	case "http":
		values["RENDERER_HTTP_BASEURL"] = c.RendererBaseURL
	default:
		values["RENDER_ENGINE_CMD"] = c.RendererCmd
	}
}

// CORSOriginList splits CORS_ALLOWED_ORIGINS.
func (c *Config) CORSOriginList() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String masks secrets so the config can be logged at startup.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "http_port=%s redis=%s queue=%s ", c.HTTPPort, c.RedisAddr, c.QueueName)
	fmt.Fprintf(&sb, "storage=%s root=%s work_dir=%s ", c.StorageProvider, c.StorageRoot, c.WorkDir)
	fmt.Fprintf(&sb, "renderer=%s workers=%d ", c.RendererMode, c.WorkerConcurrency)
	fmt.Fprintf(&sb, "secret_key=%s s3_secret=%s", mask(c.SecretKey), mask(c.S3SecretKey))
	return sb.String()
}

func (c *Config) normalize() {
	c.StorageProvider = strings.ToLower(strings.TrimSpace(c.StorageProvider))
	c.RendererMode = strings.ToLower(strings.TrimSpace(c.RendererMode))
	if c.WorkerConcurrency < 1 {
		c.WorkerConcurrency = 1
	}
	if c.DownloadTTL <= 0 {
		c.DownloadTTL = 10 * time.Minute
	}
	if c.ProgressRate <= 0 {
		c.ProgressRate = 10
	}
	if c.MaxUploadMiB <= 0 {
		c.MaxUploadMiB = 512
	}
}

func requireEnv(values map[string]string) error {
	var missing []string
	for k, v := range values {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	return "********"
}
