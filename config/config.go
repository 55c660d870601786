package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"mintmgr/core"
	"mintmgr/storage"
)

const (
	DefaultEntropySeedEnv     = "MINTD_ENTROPY_SEED"
	DefaultRegistrationKeyEnv = "MINTD_REGISTRATION_KEY"
	DefaultJWTSecretEnv       = "MINTD_JWT_SECRET"
)

// Duration wraps time.Duration so both TOML and YAML accept "30s" style values.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText keeps persisted configs human readable.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

type Config struct {
	ChainID       string          `toml:"ChainID" yaml:"chain_id"`
	ContractLabel string          `toml:"ContractLabel" yaml:"contract_label"`
	DataDir       string          `toml:"DataDir" yaml:"data_dir"`
	Storage       string          `toml:"Storage" yaml:"storage"`
	ReceiptsDSN   string          `toml:"ReceiptsDSN" yaml:"receipts_dsn"`
	Log           LogConfig       `toml:"Log" yaml:"log"`
	RPC           RPCConfig       `toml:"RPC" yaml:"rpc"`
	Telemetry     TelemetryConfig `toml:"Telemetry" yaml:"telemetry"`
	Mint          MintConfig      `toml:"Mint" yaml:"mint"`
}

type LogConfig struct {
	Env        string `toml:"Env" yaml:"env"`
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// RPCConfig tunes the JSON-RPC edge. Forwarding headers only key rate limiting
// when TrustProxyHeaders is set; AllowUnauthenticated lifts the token
// requirement outside dev/local environments.
type RPCConfig struct {
	Address              string   `toml:"Address" yaml:"address"`
	JWTSecretEnv         string   `toml:"JWTSecretEnv" yaml:"jwt_secret_env"`
	JWTIssuer            string   `toml:"JWTIssuer" yaml:"jwt_issuer"`
	RequestsPerMinute    float64  `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst                int      `toml:"Burst" yaml:"burst"`
	ReadTimeout          Duration `toml:"ReadTimeout" yaml:"read_timeout"`
	ShutdownTimeout      Duration `toml:"ShutdownTimeout" yaml:"shutdown_timeout"`
	TrustProxyHeaders    bool     `toml:"TrustProxyHeaders" yaml:"trust_proxy_headers"`
	AllowUnauthenticated bool     `toml:"AllowUnauthenticated" yaml:"allow_unauthenticated"`
}

type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// MintConfig describes the mint instantiated on first start.
type MintConfig struct {
	Owner              string          `toml:"Owner" yaml:"owner"`
	EntropySeedEnv     string          `toml:"EntropySeedEnv" yaml:"entropy_seed_env"`
	RegistrationKeyEnv string          `toml:"RegistrationKeyEnv" yaml:"registration_key_env"`
	ReceivingAddress   string          `toml:"ReceivingAddress" yaml:"receiving_address"`
	MintContract       ContractConfig  `toml:"MintContract" yaml:"mint_contract"`
	Channels           []ChannelConfig `toml:"Channels" yaml:"channels"`
	NamePrefix         string          `toml:"NamePrefix" yaml:"name_prefix"`
	Description        string          `toml:"Description" yaml:"description"`
}

type ContractConfig struct {
	Address  string `toml:"Address" yaml:"address"`
	CodeHash string `toml:"CodeHash" yaml:"code_hash"`
}

type ChannelConfig struct {
	Kind     string `toml:"Kind" yaml:"kind"`
	Address  string `toml:"Address" yaml:"address"`
	CodeHash string `toml:"CodeHash" yaml:"code_hash"`
	Price    string `toml:"Price" yaml:"price"`
}

// Load reads the configuration at path. TOML is the default format; files
// ending in .yaml or .yml are decoded as YAML. A missing file is created with
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := decodeYAML(path, cfg); err != nil {
			return nil, err
		}
	default:
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ChainID) == "" {
		cfg.ChainID = "mint-local"
	}
	if strings.TrimSpace(cfg.ContractLabel) == "" {
		cfg.ContractLabel = "mint-manager"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./mint-data"
	}
	if cfg.Storage == "" {
		cfg.Storage = storage.BackendLevelDB
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" && cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.RPC.Address == "" {
		cfg.RPC.Address = ":8080"
	}
	if cfg.RPC.JWTSecretEnv == "" {
		cfg.RPC.JWTSecretEnv = DefaultJWTSecretEnv
	}
	if cfg.RPC.ReadTimeout.Duration == 0 {
		cfg.RPC.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.RPC.ShutdownTimeout.Duration == 0 {
		cfg.RPC.ShutdownTimeout.Duration = 15 * time.Second
	}
	if cfg.Mint.EntropySeedEnv == "" {
		cfg.Mint.EntropySeedEnv = DefaultEntropySeedEnv
	}
	if cfg.Mint.RegistrationKeyEnv == "" {
		cfg.Mint.RegistrationKeyEnv = DefaultRegistrationKeyEnv
	}
	if cfg.Mint.NamePrefix == "" {
		cfg.Mint.NamePrefix = "Magic Bone"
	}
}

// Validate checks the settings that can be checked without the environment.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage)) {
	case storage.BackendLevelDB, storage.BackendBolt, storage.BackendMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage)
	}
	if c.RPC.RequestsPerMinute < 0 {
		return fmt.Errorf("rpc: requests_per_minute must not be negative")
	}
	if c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: burst must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	if c.Mint.Configured() && len(c.Mint.Channels) != 2 {
		return fmt.Errorf("mint: exactly two channels required, got %d", len(c.Mint.Channels))
	}
	return nil
}

// Configured reports whether the mint section names an owner. Without one the
// daemon serves an existing deployment but cannot instantiate a new one.
func (m MintConfig) Configured() bool {
	return strings.TrimSpace(m.Owner) != ""
}

func secretFromEnv(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secret environment variable not named")
	}
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("environment variable %s is empty", name)
	}
	return value, nil
}

// JWTSecret returns the RPC token secret, or the empty string when unset.
func (c *Config) JWTSecret() string {
	return strings.TrimSpace(os.Getenv(c.RPC.JWTSecretEnv))
}

// ErrUnauthenticatedRPC is returned when no token secret is available for a
// deployment that has not opted out of caller verification.
var ErrUnauthenticatedRPC = errors.New("rpc: token secret required")

// DevEnvironment reports whether Log.Env names a development deployment.
func (c *Config) DevEnvironment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Log.Env)) {
	case "dev", "development", "local":
		return true
	}
	return false
}

// RPCSecret returns the token secret mint_execute is verified with. An empty
// secret is only returned for dev/local environments or when
// RPC.AllowUnauthenticated is set.
func (c *Config) RPCSecret() (string, error) {
	if secret := c.JWTSecret(); secret != "" {
		return secret, nil
	}
	if c.RPC.AllowUnauthenticated || c.DevEnvironment() {
		return "", nil
	}
	return "", fmt.Errorf("%w: set %s or RPC.AllowUnauthenticated (env %q)", ErrUnauthenticatedRPC, c.RPC.JWTSecretEnv, c.Log.Env)
}

// InstantiateMsg assembles the instantiate message from config and the
// secrets held in the environment.
func (m MintConfig) InstantiateMsg() (core.InstantiateMsg, error) {
	if !m.Configured() {
		return core.InstantiateMsg{}, errors.New("mint: owner not configured")
	}
	seed, err := secretFromEnv(m.EntropySeedEnv)
	if err != nil {
		return core.InstantiateMsg{}, fmt.Errorf("mint entropy seed: %w", err)
	}
	regKey, err := secretFromEnv(m.RegistrationKeyEnv)
	if err != nil {
		return core.InstantiateMsg{}, fmt.Errorf("mint registration key: %w", err)
	}
	msg := core.InstantiateMsg{
		EntropySeed:      seed,
		RegistrationKey:  regKey,
		ReceivingAddress: m.ReceivingAddress,
		MintContract:     core.ContractInit{Address: m.MintContract.Address, CodeHash: m.MintContract.CodeHash},
		Token:            core.TokenInit{NamePrefix: m.NamePrefix, Description: m.Description},
	}
	for _, ch := range m.Channels {
		msg.Channels = append(msg.Channels, core.ChannelInit{
			Kind:     ch.Kind,
			Contract: core.ContractInit{Address: ch.Address, CodeHash: ch.CodeHash},
			Price:    ch.Price,
		})
	}
	return msg, nil
}

// createDefault writes and returns a default configuration.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
