package main

import (
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort                = 9000
	defaultStore               = "sqlite"
	defaultDBFile              = "entitlements.db"
	defaultRelayTimeoutSeconds = 5
)

type Config struct {
	// API settings
	Port    int    `yaml:"port" envconfig:"PORT"`
	APIBase string `yaml:"api_base" envconfig:"API_BASE"`

	// Store settings. store is "pg" or "sqlite".
	Store  string `yaml:"store" envconfig:"STORE"`
	DB     string `yaml:"db" envconfig:"DB"`
	DBFile string `yaml:"db_file" envconfig:"DB_FILE"`

	// Relay settings
	RelayURLs           []string `yaml:"relay_urls" envconfig:"RELAY_URLS"`
	RelayTimeoutSeconds int      `yaml:"relay_timeout_seconds" envconfig:"RELAY_TIMEOUT_SECONDS"`
	PublisherNsec       string   `yaml:"publisher_nsec" envconfig:"PUBLISHER_NSEC"`

	// Verification settings
	TrustedZapperPubkeys []string `yaml:"trusted_zapper_pubkeys" envconfig:"TRUSTED_ZAPPER_PUBKEYS"`
	AllowedPubkeys       []string `yaml:"allowed_pubkeys" envconfig:"ALLOWED_PUBKEYS"`

	// Lightning settings. lightning_provider is "nodeless", "zbd", or empty
	// to disable top-up invoices.
	LightningProvider string `yaml:"lightning_provider" envconfig:"LIGHTNING_PROVIDER"`
	NodelessAPIKey    string `yaml:"nodeless_apikey" envconfig:"NODELESS_APIKEY"`
	NodelessStoreID   string `yaml:"nodeless_storeid" envconfig:"NODELESS_STOREID"`
	NodelessTestnet   bool   `yaml:"nodeless_testnet" envconfig:"NODELESS_TESTNET"`
	ZBDAPIKey         string `yaml:"zbd_apikey" envconfig:"ZBD_APIKEY"`

	// Audit settings. An empty bucket disables the s3 archive.
	AuditS3Bucket    string `yaml:"audit_s3_bucket" envconfig:"AUDIT_S3_BUCKET"`
	AuditS3Prefix    string `yaml:"audit_s3_prefix" envconfig:"AUDIT_S3_PREFIX"`
	AuditS3Region    string `yaml:"audit_s3_region" envconfig:"AUDIT_S3_REGION"`
	AuditS3Endpoint  string `yaml:"audit_s3_endpoint" envconfig:"AUDIT_S3_ENDPOINT"`
	AuditS3AccessKey string `yaml:"audit_s3_access_key" envconfig:"AUDIT_S3_ACCESS_KEY"`
	AuditS3SecretKey string `yaml:"audit_s3_secret_key" envconfig:"AUDIT_S3_SECRET_KEY"`
}

// Load Config from a yaml file at path.
func (c *Config) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return err
	}

	c.applyDefaults()
	return nil
}

// Load Config from the environment.
func (c *Config) LoadFromEnv() error {
	if err := envconfig.Process("", c); err != nil {
		return err
	}

	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Store == "" {
		c.Store = defaultStore
	}
	if c.DBFile == "" {
		c.DBFile = defaultDBFile
	}
	if c.RelayTimeoutSeconds == 0 {
		c.RelayTimeoutSeconds = defaultRelayTimeoutSeconds
	}
}
