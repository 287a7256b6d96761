// Package config reads the upload client configuration from the
// environment, after loading an optional .env file.
package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/stefando/resumableupload/internal/sender"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheBadger = "badger"
	CacheRedis  = "redis"
	CacheS3     = "s3"
	CacheNone   = "none"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL,default=info"`
	LogJSON  bool   `env:"LOG_JSON,default=false"`
	LogFile  string `env:"LOG_FILE"`

	UploadURL string `env:"UPLOAD_URL"`

	CacheBackend string        `env:"CACHE_BACKEND,default=badger"`
	CachePrefix  string        `env:"CACHE_PREFIX,default=dudup"`
	CacheTTL     time.Duration `env:"CACHE_TTL,default=24h"`
	BadgerPath   string        `env:"BADGER_PATH,default=.upload-cache"`
	RedisAddr    string        `env:"REDIS_ADDR,default=localhost:6379"`

	ChunkSize   int64  `env:"CHUNK_SIZE,default=1048576"`
	BlockSize   int64  `env:"BLOCK_SIZE,default=4194304"`
	MaxConnect  int    `env:"MAX_CONNECT,default=4"`
	MaxFileSize int64  `env:"MAX_FILE_SIZE,default=1073741824"`
	MaxTasks    int    `env:"MAX_TASKS,default=2000"`
	HashType    string `env:"HASH_TYPE,default=contenthash"`
	Hasher      string `env:"HASHER,default=sha256"`
	Override    bool   `env:"OVERRIDE,default=false"`

	AWSRegion    string `env:"AWS_REGION"`
	S3Bucket     string `env:"S3_BUCKET"`
	BucketPrefix string `env:"BUCKET_PREFIX"`
	RoleARN      string `env:"ROLE_ARN"`
	Tenant       string `env:"TENANT"`

	StackName       string `env:"STACK_NAME"`
	CognitoPoolID   string `env:"COGNITO_POOL_ID"`
	CognitoClientID string `env:"COGNITO_CLIENT_ID"`
	Username        string `env:"UPLOAD_USERNAME"`
	Password        string `env:"UPLOAD_PASSWORD"`
	Token           string `env:"UPLOAD_TOKEN"`
}

// Load reads .env (if present) and the environment.
func Load(files ...string) (Config, error) {
	_ = godotenv.Load(files...)

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// Settings maps the configuration onto sender settings and validates them.
func (c Config) Settings() (sender.Settings, error) {
	settings := sender.DefaultSettings()
	settings.ChunkSize = c.ChunkSize
	settings.BlockSize = c.BlockSize
	settings.MaxConnect = c.MaxConnect
	settings.MaxFileSize = c.MaxFileSize
	settings.MaxTasks = c.MaxTasks
	settings.HashType = c.HashType
	settings.Override = c.Override
	settings.Cache = c.CacheBackend != CacheNone

	settings = settings.Normalize()
	if err := sender.CheckOptions(settings); err != nil {
		return sender.Settings{}, err
	}
	return settings, nil
}
