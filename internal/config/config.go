package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "KEEPSAKE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "keepsake.db"
	defaultDataDir      = "keepsake-data"
	defaultLogLevel     = "info"
	defaultAIWorkers    = 2
)

// Storage backend selectors accepted by storage.backend.
const (
	BackendSQLite     = "sqlite"
	BackendFilesystem = "fs"
	BackendS3         = "s3"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	LogLevel           string
	StorageBackend     string
	DataDir            string
	DatabasePath       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSBucket          string
	AWSRegion          string
	GoogleAPIKey       string
	AIWorkers          int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
// AWS credentials and the Google API key bind to their conventional unprefixed
// environment names so existing deployments keep working.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("storage.backend", BackendSQLite)
	configViper.SetDefault("data.dir", defaultDataDir)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("ai.workers", defaultAIWorkers)

	_ = configViper.BindEnv("aws.access_key_id", "AWS_ACCESS_KEY_ID")
	_ = configViper.BindEnv("aws.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	_ = configViper.BindEnv("aws.bucket", "AWS_S3_BUCKET_NAME")
	_ = configViper.BindEnv("aws.region", "AWS_REGION")
	_ = configViper.BindEnv("google.api_key", "GOOGLE_API_KEY")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		LogLevel:           configViper.GetString("log.level"),
		StorageBackend:     strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		DataDir:            configViper.GetString("data.dir"),
		DatabasePath:       configViper.GetString("database.path"),
		AWSAccessKeyID:     configViper.GetString("aws.access_key_id"),
		AWSSecretAccessKey: configViper.GetString("aws.secret_access_key"),
		AWSBucket:          configViper.GetString("aws.bucket"),
		AWSRegion:          configViper.GetString("aws.region"),
		GoogleAPIKey:       configViper.GetString("google.api_key"),
		AIWorkers:          configViper.GetInt("ai.workers"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// HasAWSCredentials reports whether every value needed to reach S3 is present.
func (c AppConfig) HasAWSCredentials() bool {
	return strings.TrimSpace(c.AWSAccessKeyID) != "" &&
		strings.TrimSpace(c.AWSSecretAccessKey) != "" &&
		strings.TrimSpace(c.AWSBucket) != "" &&
		strings.TrimSpace(c.AWSRegion) != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.StorageBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("data.dir is required")
		}
	case BackendFilesystem:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("data.dir is required")
		}
	case BackendS3:
	default:
		return fmt.Errorf("storage.backend must be one of %s, %s, %s", BackendSQLite, BackendFilesystem, BackendS3)
	}
	if c.AIWorkers < 1 {
		return fmt.Errorf("ai.workers must be at least 1")
	}
	return nil
}
