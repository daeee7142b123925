package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/sepich/project-image-cache/pkg/cache"
	"github.com/sepich/project-image-cache/pkg/model"
	"github.com/sepich/project-image-cache/pkg/resolver"
)

type Config struct {
	Listen string
	Debug  bool

	Store         string // s3 | dir
	Bucket        string
	PublicBaseURL string
	PresignTTL    time.Duration
	StoreDir      string
	Catalog       string

	Persist  string // file | redis | none
	StateDir string
	RedisURL string

	TTL           time.Duration
	BatchSize     int
	RemoteTimeout time.Duration
	ListRetries   int
}

// Parse reads flags from args. Environment variables provide the defaults.
func Parse(args []string) (*Config, error) {
	c := &Config{}
	fs := pflag.NewFlagSet("project-image-cache", pflag.ContinueOnError)
	fs.StringVar(&c.Listen, "listen", listenDefault(), "Address to listen on (env PORT sets the port)")
	fs.BoolVar(&c.Debug, "debug", false, "Development logging")
	fs.StringVar(&c.Store, "store", env("STORE", "s3"), "Object store backend: s3 or dir")
	fs.StringVar(&c.Bucket, "bucket", env("BUCKET", model.DefaultBucket), "Bucket holding project photos")
	fs.StringVar(&c.PublicBaseURL, "public-base-url", os.Getenv("PUBLIC_BASE_URL"), "Base URL for public image links; presigned links are used when empty")
	fs.DurationVar(&c.PresignTTL, "presign-ttl", time.Hour, "Lifetime of presigned image links")
	fs.StringVar(&c.StoreDir, "store-dir", "/srv/projects", "Root directory for --store=dir, served under /files/")
	fs.StringVar(&c.Catalog, "catalog", "", "YAML project catalog; the built-in portfolio is used when empty")
	fs.StringVar(&c.Persist, "persist", env("PERSIST", "file"), "Cache persistence: file, redis or none")
	fs.StringVar(&c.StateDir, "state-dir", "/tmp/project-images", "Directory for --persist=file")
	fs.StringVar(&c.RedisURL, "redis-url", env("REDIS_URL", "redis://localhost:6379/0"), "Redis URL for --persist=redis")
	fs.DurationVar(&c.TTL, "ttl", cache.DefaultTTL, "How long a loaded image set is served without listing the bucket")
	fs.IntVar(&c.BatchSize, "batch-size", resolver.DefaultBatchSize, "Image links resolved concurrently per batch")
	fs.DurationVar(&c.RemoteTimeout, "remote-timeout", resolver.DefaultTimeout, "Deadline for each object store call")
	fs.IntVar(&c.ListRetries, "list-retries", resolver.DefaultListRetries, "Extra attempts after a failed listing")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case "s3", "dir":
	default:
		return fmt.Errorf("unknown --store %q", c.Store)
	}
	switch c.Persist {
	case "file", "redis", "none":
	default:
		return fmt.Errorf("unknown --persist %q", c.Persist)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("--remote-timeout must be positive")
	}
	if c.ListRetries < 0 {
		return fmt.Errorf("--list-retries must not be negative")
	}
	return nil
}

// LoadCatalog returns the configured catalog or the built-in one.
func (c *Config) LoadCatalog() (*model.Catalog, error) {
	if c.Catalog == "" {
		return model.DefaultCatalog(), nil
	}
	return model.LoadCatalog(c.Catalog)
}

func listenDefault() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":3000"
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
