package storage

import (
	"os"
	"strconv"
	"strings"

	apperrors "site-guardian/internal/errors"
)

// ProviderType represents the object storage provider
type ProviderType string

const (
	ProviderLocal ProviderType = "LOCAL"
	ProviderS3    ProviderType = "S3"
	ProviderAzure ProviderType = "AZURE"
	ProviderGCS   ProviderType = "GCS"
)

// CompressionType represents the codec applied to stored objects
type CompressionType string

const (
	CompressionNone CompressionType = "NONE"
	CompressionGzip CompressionType = "GZIP"
	CompressionLZ4  CompressionType = "LZ4"
	CompressionZstd CompressionType = "ZSTD"
)

// Config selects and configures the storage provider
type Config struct {
	Provider    ProviderType      `yaml:"provider" mapstructure:"provider"`
	Local       *LocalConfig      `yaml:"local,omitempty" mapstructure:"local"`
	S3          *S3Config         `yaml:"s3,omitempty" mapstructure:"s3"`
	Azure       *AzureConfig      `yaml:"azure,omitempty" mapstructure:"azure"`
	GCS         *GCSConfig        `yaml:"gcs,omitempty" mapstructure:"gcs"`
	Compression CompressionConfig `yaml:"compression" mapstructure:"compression"`
	Encryption  EncryptionConfig  `yaml:"encryption" mapstructure:"encryption"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `yaml:"base_path" mapstructure:"base_path"`
	Permissions os.FileMode `yaml:"permissions" mapstructure:"permissions"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `yaml:"account_name" mapstructure:"account_name"`
	AccountKey    string `yaml:"account_key" mapstructure:"account_key"`
	ContainerName string `yaml:"container_name" mapstructure:"container_name"`
	Prefix        string `yaml:"prefix" mapstructure:"prefix"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	CredentialsPath string `yaml:"credentials_path" mapstructure:"credentials_path"`
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
}

// CompressionConfig defines the codec used for blobs, manifests and dumps
type CompressionConfig struct {
	Algorithm CompressionType `yaml:"algorithm" mapstructure:"algorithm"`
	Level     int             `yaml:"level" mapstructure:"level"`
}

// EncryptionConfig defines optional at-rest encryption
type EncryptionConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	KeyEnvVar  string `yaml:"key_env_var" mapstructure:"key_env_var"`
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`
	Salt       string `yaml:"salt" mapstructure:"salt"`
}

// SetDefaults sets default values for storage configuration
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	c.Provider = ProviderType(strings.ToUpper(string(c.Provider)))

	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil {
			c.Local = &LocalConfig{}
		}
		if c.Local.BasePath == "" {
			c.Local.BasePath = "./guardian-data"
		}
		if c.Local.Permissions == 0 {
			c.Local.Permissions = 0755
		}
	case ProviderS3:
		if c.S3 == nil {
			c.S3 = &S3Config{}
		}
		if c.S3.Region == "" {
			c.S3.Region = "us-east-1"
		}
	case ProviderAzure:
		if c.Azure == nil {
			c.Azure = &AzureConfig{}
		}
	case ProviderGCS:
		if c.GCS == nil {
			c.GCS = &GCSConfig{}
		}
		if c.GCS.CredentialsPath == "" {
			c.GCS.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		}
	}

	if c.Compression.Algorithm == "" {
		c.Compression.Algorithm = CompressionGzip
	}
	c.Compression.Algorithm = CompressionType(strings.ToUpper(string(c.Compression.Algorithm)))
	if c.Encryption.KeyEnvVar == "" {
		c.Encryption.KeyEnvVar = "SITE_GUARDIAN_ENCRYPTION_KEY"
	}
}

// LoadFromEnvironment overrides storage settings from environment variables
func (c *Config) LoadFromEnvironment() {
	if val := os.Getenv("SITE_GUARDIAN_STORAGE_PROVIDER"); val != "" {
		c.Provider = ProviderType(strings.ToUpper(val))
	}
	if val := os.Getenv("SITE_GUARDIAN_STORAGE_PATH"); val != "" {
		if c.Local == nil {
			c.Local = &LocalConfig{}
		}
		c.Local.BasePath = val
	}
	if val := os.Getenv("SITE_GUARDIAN_COMPRESSION"); val != "" {
		c.Compression.Algorithm = CompressionType(strings.ToUpper(val))
	}
	if val := os.Getenv("SITE_GUARDIAN_COMPRESSION_LEVEL"); val != "" {
		if level, err := strconv.Atoi(val); err == nil {
			c.Compression.Level = level
		}
	}
	if c.S3 != nil {
		if val := os.Getenv("SITE_GUARDIAN_S3_ACCESS_KEY"); val != "" {
			c.S3.AccessKey = val
		}
		if val := os.Getenv("SITE_GUARDIAN_S3_SECRET_KEY"); val != "" {
			c.S3.SecretKey = val
		}
	}
	if c.Azure != nil {
		if val := os.Getenv("SITE_GUARDIAN_AZURE_ACCOUNT_KEY"); val != "" {
			c.Azure.AccountKey = val
		}
	}
}

// Validate validates the storage configuration
func (c *Config) Validate() error {
	var errs apperrors.ValidationErrors

	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil || c.Local.BasePath == "" {
			errs.Add("storage.local.base_path", "base path is required", nil)
		}
	case ProviderS3:
		if c.S3 == nil || c.S3.Bucket == "" {
			errs.Add("storage.s3.bucket", "bucket is required", nil)
		}
	case ProviderAzure:
		if c.Azure == nil || c.Azure.AccountName == "" || c.Azure.ContainerName == "" {
			errs.Add("storage.azure", "account_name and container_name are required", nil)
		}
	case ProviderGCS:
		if c.GCS == nil || c.GCS.Bucket == "" {
			errs.Add("storage.gcs.bucket", "bucket is required", nil)
		}
	default:
		errs.Add("storage.provider", "unsupported storage provider", c.Provider)
	}

	switch c.Compression.Algorithm {
	case CompressionNone, CompressionGzip, CompressionLZ4, CompressionZstd:
	default:
		errs.Add("storage.compression.algorithm", "must be one of NONE, GZIP, LZ4, ZSTD", c.Compression.Algorithm)
	}

	if c.Encryption.Enabled && c.Encryption.Passphrase == "" && os.Getenv(c.Encryption.KeyEnvVar) == "" {
		errs.Add("storage.encryption", "passphrase or key environment variable is required when encryption is enabled", c.Encryption.KeyEnvVar)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
