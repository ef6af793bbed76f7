package config

import (
	env "github.com/Netflix/go-env"

	"github.com/taskhub/uploadgate/internal/upload"
)

// Config is the whole environment-driven configuration surface,
// loaded once at startup.
type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR,default=:8080"`
	MetricsAddr string `env:"METRICS_ADDR,default=:9090"`
	DevMode     bool   `env:"DEV_MODE,default=false"`

	DatabaseURL string `env:"DATABASE_URL,default=postgres://localhost:5432/taskhub?sslmode=disable"`

	UploadDir   string `env:"UPLOAD_DIR,default=uploads"`
	MaxFileSize int64  `env:"MAX_FILE_SIZE,default=10485760"`

	UploadsPerMinute int   `env:"UPLOADS_PER_MINUTE,default=10"`
	UploadsPerHour   int   `env:"UPLOADS_PER_HOUR,default=50"`
	UploadsPerDay    int   `env:"UPLOADS_PER_DAY,default=200"`
	TotalSizePerHour int64 `env:"TOTAL_SIZE_PER_HOUR,default=104857600"`
	TotalSizePerDay  int64 `env:"TOTAL_SIZE_PER_DAY,default=524288000"`

	// SniffContent selects the content-based MIME sniffer; turning it
	// off degrades to declared-type-only checking.
	SniffContent bool `env:"SNIFF_CONTENT,default=true"`

	// CleanupIntervalSec is how often the orphan-cleanup worker runs.
	// Zero disables it.
	CleanupIntervalSec int `env:"CLEANUP_INTERVAL_SEC,default=3600"`

	// VirusScanCommand is configured for operators but never invoked
	// by the pipeline itself.
	VirusScanCommand string `env:"VIRUS_SCAN_COMMAND,default=clamscan"`

	Extras env.EnvSet
}

func Load() (*Config, error) {
	var cfg Config
	extras, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, err
	}
	cfg.Extras = extras
	return &cfg, nil
}

// Policy builds the validator policy from the configured overrides on
// top of the defaults.
func (c *Config) Policy() *upload.Policy {
	policy := upload.DefaultPolicy()
	if c.MaxFileSize > 0 {
		policy.MaxFileSize = c.MaxFileSize
	}
	return policy
}

// RateLimits builds the limiter thresholds.
func (c *Config) RateLimits() upload.RateLimits {
	return upload.RateLimits{
		UploadsPerMinute: c.UploadsPerMinute,
		UploadsPerHour:   c.UploadsPerHour,
		UploadsPerDay:    c.UploadsPerDay,
		BytesPerHour:     c.TotalSizePerHour,
		BytesPerDay:      c.TotalSizePerDay,
	}
}
