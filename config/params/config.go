// Package params holds the node's runtime configuration.
package params

import (
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Node roles. A hermes node ingests entities and uploads bundles; an atlas
// node competes for sheltering peers' bundles.
const (
	RoleHermes = "hermes"
	RoleAtlas  = "atlas"
)

// Duration is a time.Duration that unmarshals from yaml strings such as
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the node's full runtime configuration. Zero values are filled
// from DefaultConfig.
type Config struct {
	Role string `yaml:"role"`

	MongoURI     string `yaml:"mongoUri"`
	DatabaseName string `yaml:"databaseName"`

	RPCEndpoint     string `yaml:"rpcEndpoint"`
	ContractAddress string `yaml:"contractAddress"`
	KeyFilePath     string `yaml:"keyFilePath"`

	// NodeSecret is loaded from KeyFilePath and never serialized.
	NodeSecret string `yaml:"-"`

	// TimestampLimit is the ingress timestamp window in seconds.
	TimestampLimit int64 `yaml:"timestampLimit"`

	// UploadRetryPeriod is measured in upload worker ticks.
	UploadRetryPeriod int64 `yaml:"uploadRetryPeriod"`

	StoragePeriods int64 `yaml:"storagePeriods"`

	UploadWorkerInterval    Duration `yaml:"uploadWorkerInterval"`
	ChallengeWorkerInterval Duration `yaml:"challengeWorkerInterval"`
	ChallengeRetryTimeout   Duration `yaml:"challengeRetryTimeout"`
	ChainSyncPollInterval   Duration `yaml:"chainSyncPollInterval"`
}

// DefaultConfig returns a hermes configuration with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Role:                    RoleHermes,
		MongoURI:                "mongodb://localhost:27017",
		DatabaseName:            "ambrosus",
		TimestampLimit:          86400,
		UploadRetryPeriod:       12,
		StoragePeriods:          1,
		UploadWorkerInterval:    Duration(5 * time.Minute),
		ChallengeWorkerInterval: Duration(30 * time.Second),
		ChallengeRetryTimeout:   Duration(10 * time.Minute),
		ChainSyncPollInterval:   Duration(3 * time.Second),
	}
}

// LoadFile reads a yaml config file over the defaults.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "could not parse config file")
	}
	return cfg, nil
}

// LoadNodeSecret reads the node's private key from KeyFilePath.
func (c *Config) LoadNodeSecret() error {
	if c.KeyFilePath == "" {
		return errors.New("no key file configured")
	}
	raw, err := os.ReadFile(c.KeyFilePath)
	if err != nil {
		return errors.Wrap(err, "could not read key file")
	}
	c.NodeSecret = strings.TrimSpace(string(raw))
	return nil
}

// Validate checks the configuration is complete enough to start a node.
func (c *Config) Validate() error {
	if c.Role != RoleHermes && c.Role != RoleAtlas {
		return errors.Errorf("unknown role %q", c.Role)
	}
	if c.MongoURI == "" {
		return errors.New("mongoUri is required")
	}
	if c.RPCEndpoint == "" {
		return errors.New("rpcEndpoint is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return errors.Errorf("invalid contract address %q", c.ContractAddress)
	}
	if c.NodeSecret == "" {
		return errors.New("node secret is not loaded")
	}
	if c.TimestampLimit <= 0 {
		return errors.New("timestampLimit must be positive")
	}
	if c.UploadRetryPeriod <= 0 {
		return errors.New("uploadRetryPeriod must be positive")
	}
	return nil
}
