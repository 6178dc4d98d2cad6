package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Nonce stores for signed requests
const (
	NonceStoreMemory = "memory"
	NonceStoreRedis  = "redis"
)

// Gateway dispatch modes
const (
	GatewayModeEVM = "evm"
	GatewayModeLog = "log"
)

// Config represents the vault service configuration
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Store          StoreConfig          `yaml:"store"`
	Gateway        GatewayConfig        `yaml:"gateway"`
	Auth           AuthConfig           `yaml:"auth"`
	Fees           FeesConfig           `yaml:"fees"`
	Simulation     SimulationConfig     `yaml:"simulation"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Events         EventsConfig         `yaml:"events"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	Logging        LoggingConfig        `yaml:"logging"`
	Shutdown       ShutdownConfig       `yaml:"shutdown"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host              string        `yaml:"host" default:"0.0.0.0"`
	Port              int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout       time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" default:"15s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" default:"60s"`
	MiddlewareTimeout time.Duration `yaml:"middleware_timeout" default:"60s"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"vault"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// StoreConfig selects the ledger persistence
type StoreConfig struct {
	Driver string `yaml:"driver" default:"postgres" validate:"oneof=postgres memory"`
}

// GatewayConfig contains the cross-chain gateway settings
type GatewayConfig struct {
	// Address is the only identity allowed to deliver callbacks.
	Address            string `yaml:"address" validate:"required,eth_addr"`
	Mode               string `yaml:"mode" default:"log" validate:"oneof=evm log"`
	RPCURL             string `yaml:"rpc_url" validate:"required_if=Mode evm"`
	Contract           string `yaml:"contract" validate:"required_if=Mode evm"`
	DispatchPrivateKey string `yaml:"dispatch_private_key" validate:"required_if=Mode evm"`
	ChainID            int64  `yaml:"chain_id" validate:"required_if=Mode evm"`
	GasLimit           uint64 `yaml:"gas_limit" default:"500000"`

	// DispatchKeyMasterKey is a base64 master key. When set,
	// DispatchPrivateKey holds a sealed key instead of hex.
	DispatchKeyMasterKey string `yaml:"dispatch_key_master_key"`
}

// GatewayAddress returns the configured gateway identity
func (c GatewayConfig) GatewayAddress() common.Address {
	return common.HexToAddress(c.Address)
}

// AuthConfig controls request signature checks.
type AuthConfig struct {
	// MaxSignatureAge bounds how long a signed request stays valid.
	MaxSignatureAge time.Duration `yaml:"max_signature_age" default:"5m" validate:"gt=0"`
	NonceStore      string        `yaml:"nonce_store" default:"memory" validate:"oneof=memory redis"`
	RedisURL        string        `yaml:"redis_url" validate:"required_if=NonceStore redis"`
	KeyPrefix       string        `yaml:"key_prefix" default:"vault:nonce:"`
}

// FeesConfig contains withdrawal fee settings
type FeesConfig struct {
	// BaseFee is the gateway execution fee in wei.
	BaseFee string `yaml:"base_fee" default:"0" validate:"numeric"`
}

// BaseFeeWei parses BaseFee
func (c FeesConfig) BaseFeeWei() (*big.Int, error) {
	v, ok := new(big.Int).SetString(c.BaseFee, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid fees.base_fee %q", c.BaseFee)
	}
	return v, nil
}

// SimulationConfig controls the failure simulation hook used in demos.
// It must stay disabled in production.
type SimulationConfig struct {
	Enabled      bool   `yaml:"enabled"`
	GasThreshold uint64 `yaml:"gas_threshold" default:"150000"`
}

// ReconciliationConfig contains settings for the ledger audit loop
type ReconciliationConfig struct {
	Interval   time.Duration `yaml:"interval" default:"5m"`
	StaleAfter time.Duration `yaml:"stale_after" default:"1h"`
}

// EventsConfig controls forwarding of committed events to a Redis stream.
// Forwarding is off when RedisURL is empty.
type EventsConfig struct {
	RedisURL string `yaml:"redis_url"`
	Stream   string `yaml:"stream" default:"vault:events"`
	MaxLen   int64  `yaml:"max_len" default:"100000" validate:"min=0"`
}

// Enabled reports whether events are forwarded.
func (c EventsConfig) Enabled() bool {
	return c.RedisURL != ""
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// ShutdownConfig contains graceful shutdown settings
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

// Load reads the YAML file at configPath. ${VAR} references are expanded
// from the environment before decoding.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", e.Namespace(), e.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.Gateway.Contract != "" && !common.IsHexAddress(cfg.Gateway.Contract) {
		return fmt.Errorf("gateway.contract is not a hex address")
	}
	if cfg.Store.Driver == StoreDriverPostgres && cfg.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if _, err := cfg.Fees.BaseFeeWei(); err != nil {
		return err
	}
	return nil
}
