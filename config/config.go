// Package config loads service configuration from an optional .env file, an
// optional YAML file and MIGRATE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/gateway"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/progress"
	"github.com/feichai0017/migration-orchestrator/pkg/queue"
)

// EnvPrefix prefixes every environment override, e.g. MIGRATE_REDIS_ADDR.
const EnvPrefix = "MIGRATE"

// Run modes.
const (
	RunModeInline = "inline"
	RunModeQueue  = "queue"
)

// Storage types.
const (
	StorageS3     = "s3"
	StorageMinio  = "minio"
	StorageMemory = "memory"
	StorageNone   = "none"
)

type Config struct {
	Server  ServerConfig    `mapstructure:"server"`
	Log     logger.Config   `mapstructure:"log"`
	Redis   RedisConfig     `mapstructure:"redis"`
	Queue   QueueConfig     `mapstructure:"queue"`
	Storage StorageConfig   `mapstructure:"storage"`
	Bus     progress.Config `mapstructure:"bus"`
	Run     RunConfig       `mapstructure:"run"`
	Gateway GatewayConfig   `mapstructure:"gateway"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	Mode            string        `mapstructure:"mode"` // gin mode
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Channel carries progress events between processes. Empty disables the relay.
	Channel string `mapstructure:"channel"`
}

type QueueConfig struct {
	Concurrency int            `mapstructure:"concurrency"`
	MaxRetries  int            `mapstructure:"maxRetries"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	StatusTTL   time.Duration  `mapstructure:"statusTTL"`
	Queues      map[string]int `mapstructure:"queues"`
	Priority    int            `mapstructure:"priority"`
}

type StorageConfig struct {
	Type         string        `mapstructure:"type"`
	S3           S3Config      `mapstructure:"s3"`
	Minio        MinioConfig   `mapstructure:"minio"`
	ReportPrefix string        `mapstructure:"reportPrefix"`
	Retention    time.Duration `mapstructure:"retention"`
}

type RunConfig struct {
	Mode         string `mapstructure:"mode"`
	Parallel     bool   `mapstructure:"parallel"`
	MaxParallel  int    `mapstructure:"maxParallel"`
	CatalogPath  string `mapstructure:"catalogPath"`
	FixturesPath string `mapstructure:"fixturesPath"`
	Strict       bool   `mapstructure:"strict"`
}

type GatewayConfig struct {
	Mode      string                  `mapstructure:"mode"`
	Resilient gateway.ResilientConfig `mapstructure:",squash"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.outputPaths", []string{"stdout"})
	v.SetDefault("log.errorPaths", []string{"stderr"})
	v.SetDefault("log.development", false)
	v.SetDefault("log.maxSize", 100)
	v.SetDefault("log.maxBackups", 5)
	v.SetDefault("log.maxAge", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "migration:events")

	qd := queue.DefaultConfig()
	v.SetDefault("queue.concurrency", qd.Concurrency)
	v.SetDefault("queue.maxRetries", qd.MaxRetries)
	v.SetDefault("queue.timeout", qd.Timeout)
	v.SetDefault("queue.statusTTL", qd.StatusTTL)
	v.SetDefault("queue.queues", qd.Queues)
	v.SetDefault("queue.priority", 2)

	v.SetDefault("storage.type", StorageMemory)
	v.SetDefault("storage.reportPrefix", "reports/")
	v.SetDefault("storage.retention", 30*24*time.Hour)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.accessKey", "")
	v.SetDefault("storage.s3.secretKey", "")
	v.SetDefault("storage.s3.usePathStyle", false)
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.accessKey", "")
	v.SetDefault("storage.minio.secretKey", "")
	v.SetDefault("storage.minio.useSSL", false)
	v.SetDefault("storage.minio.region", "")
	v.SetDefault("storage.minio.bucket", "")

	bd := progress.DefaultConfig()
	v.SetDefault("bus.historySize", bd.HistorySize)
	v.SetDefault("bus.replayCount", bd.ReplayCount)
	v.SetDefault("bus.bufferSize", bd.BufferSize)
	v.SetDefault("bus.subscriberBuffer", bd.SubscriberBuffer)
	v.SetDefault("bus.heartbeat", bd.Heartbeat)

	v.SetDefault("run.mode", RunModeInline)
	v.SetDefault("run.parallel", true)
	v.SetDefault("run.maxParallel", 0)
	v.SetDefault("run.catalogPath", "")
	v.SetDefault("run.fixturesPath", "")
	v.SetDefault("run.strict", false)

	gd := gateway.DefaultResilientConfig()
	v.SetDefault("gateway.mode", string(gateway.ModeMock))
	v.SetDefault("gateway.rateLimit", gd.RateLimit)
	v.SetDefault("gateway.burst", gd.Burst)
	v.SetDefault("gateway.callTimeout", gd.CallTimeout)
	v.SetDefault("gateway.maxRetries", gd.MaxRetries)
	v.SetDefault("gateway.initialInterval", gd.InitialInterval)
}

// legacyEnv keeps the storage variable names used by existing deployments.
var legacyEnv = map[string][]string{
	"storage.s3.bucket":       {"AWS_S3_BUCKET_NAME"},
	"storage.s3.region":       {"AWS_REGION"},
	"storage.s3.endpoint":     {"AWS_ENDPOINT"},
	"storage.s3.accessKey":    {"AWS_ACCESS_KEY"},
	"storage.s3.secretKey":    {"AWS_SECRET_KEY"},
	"storage.minio.endpoint":  {"MINIO_ENDPOINT"},
	"storage.minio.accessKey": {"MINIO_ACCESS_KEY"},
	"storage.minio.secretKey": {"MINIO_SECRET_KEY"},
	"storage.minio.region":    {"MINIO_REGION"},
	"storage.minio.bucket":    {"MINIO_BUCKET_NAME"},
}

// Load reads configuration. path may be empty; envFiles default to ".env" and
// missing env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "failed to load %s", f)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envs := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(envs...); err != nil {
			return nil, errors.Wrapf(err, "failed to bind %s", key)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects impossible settings.
func (c *Config) Validate() error {
	var errs []string
	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	switch c.Run.Mode {
	case RunModeInline, RunModeQueue:
	default:
		errs = append(errs, "run.mode must be inline or queue")
	}
	if c.Run.MaxParallel < 0 {
		errs = append(errs, "run.maxParallel must not be negative")
	}
	switch c.Storage.Type {
	case StorageS3:
		if c.Storage.S3.BucketName == "" {
			errs = append(errs, "storage.s3.bucket is required")
		}
	case StorageMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.BucketName == "" {
			errs = append(errs, "storage.minio.endpoint and storage.minio.bucket are required")
		}
	case StorageMemory, StorageNone:
	default:
		errs = append(errs, "storage.type must be s3, minio, memory or none")
	}
	if c.Gateway.Mode != string(gateway.ModeMock) {
		errs = append(errs, "gateway.mode "+c.Gateway.Mode+" is not available, only mock is supported")
	}
	if c.Bus.HistorySize <= 0 || c.Bus.ReplayCount < 0 {
		errs = append(errs, "bus.historySize must be positive and bus.replayCount not negative")
	}
	if c.Bus.ReplayCount > c.Bus.HistorySize {
		errs = append(errs, "bus.replayCount cannot exceed bus.historySize")
	}
	if c.Run.Mode == RunModeQueue && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required in queue mode")
	}
	if c.Queue.Concurrency <= 0 {
		errs = append(errs, "queue.concurrency must be positive")
	}
	if len(errs) > 0 {
		return errors.WithHint(errors.Newf("invalid configuration: %s", strings.Join(errs, "; ")),
			"settings can be overridden with "+EnvPrefix+"_* environment variables")
	}
	return nil
}

// Logger builds the process logger from the log section.
func (c *Config) Logger() (logger.Logger, error) {
	return logger.NewLogger(logger.WithConfig(c.Log))
}

// QueueConfig assembles the queue package settings.
func (c *Config) QueueConfig() *queue.Config {
	return &queue.Config{
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		MaxRetries:    c.Queue.MaxRetries,
		Timeout:       c.Queue.Timeout,
		StatusTTL:     c.Queue.StatusTTL,
		Concurrency:   c.Queue.Concurrency,
		Queues:        c.Queue.Queues,
	}
}
