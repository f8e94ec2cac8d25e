package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"optionclear/native/clearing"
	"optionclear/native/fees"
	"optionclear/observability/logging"
)

const (
	// RPCTokenEnv names the environment variable holding the bearer token
	// required by mutating RPC methods.
	RPCTokenEnv = "CLEARING_RPC_TOKEN"
	// EventDSNEnv overrides EventDSN when set.
	EventDSNEnv = "CLEARING_EVENT_DSN"
	// JWTSecretEnv holds the HMAC secret that signs caller tokens.
	JWTSecretEnv = "CLEARING_JWT_SECRET"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	EventDSN       string `toml:"EventDSN"`
	GenesisFile    string `toml:"GenesisFile"`
	Environment    string `toml:"Environment"`

	Clearing  Clearing    `toml:"Clearing"`
	Fees      fees.Policy `toml:"Fees"`
	Logging   Logging     `toml:"Logging"`
	RateLimit RateLimit   `toml:"RateLimit"`
	Auth      Auth        `toml:"Auth"`
	Telemetry Telemetry   `toml:"Telemetry"`

	// RPCToken is read from RPCTokenEnv and never persisted.
	RPCToken string `toml:"-"`
	// JWTSecret is read from JWTSecretEnv and never persisted.
	JWTSecret string `toml:"-"`
}

// Auth configures the signed tokens that carry the acting address of
// mutating RPC calls in their subject claim.
type Auth struct {
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int64  `toml:"ClockSkewSeconds"`
}

// Telemetry configures OpenTelemetry export over OTLP/HTTP.
type Telemetry struct {
	Tracing  bool   `toml:"Tracing"`
	Metrics  bool   `toml:"Metrics"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	// Headers is a comma-separated key=value list sent with every export.
	Headers string `toml:"Headers"`
}

// Clearing holds the option type creation bounds.
type Clearing struct {
	MinLeadSeconds           int64 `toml:"MinLeadSeconds"`
	MinExerciseWindowSeconds int64 `toml:"MinExerciseWindowSeconds"`
}

// Params converts the section into engine parameters.
func (c Clearing) Params() clearing.Params {
	return clearing.Params{
		MinLeadSeconds:           c.MinLeadSeconds,
		MinExerciseWindowSeconds: c.MinExerciseWindowSeconds,
	}
}

// Logging configures the process logger.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// Options converts the section into logging options. An empty File keeps
// logs on stdout only.
func (l Logging) Options() logging.Options {
	opts := logging.Options{Level: l.Level}
	if strings.TrimSpace(l.File) != "" {
		opts.File = &logging.FileOptions{
			Path:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		}
	}
	return opts
}

// RateLimit bounds RPC traffic per client. Mutating methods draw from a
// separate, usually tighter, budget.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
	MutatingPerMinute float64 `toml:"MutatingPerMinute"`
	MutatingBurst     int     `toml:"MutatingBurst"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	params := clearing.DefaultParams()
	return &Config{
		RPCAddress:     ":8545",
		MetricsAddress: ":9100",
		DataDir:        "./clearing-data",
		Environment:    "local",
		Clearing: Clearing{
			MinLeadSeconds:           params.MinLeadSeconds,
			MinExerciseWindowSeconds: params.MinExerciseWindowSeconds,
		},
		Fees:    fees.DefaultPolicy([20]byte{}),
		Logging: Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		RateLimit: RateLimit{
			RequestsPerMinute: 600,
			Burst:             60,
			MutatingPerMinute: 120,
			MutatingBurst:     20,
		},
		Auth:      Auth{ClockSkewSeconds: 120},
		Telemetry: Telemetry{Endpoint: "localhost:4318"},
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		// the fee policy decodes its own table
		if len(key) > 0 && key[0] == "Fees" {
			continue
		}
		return nil, fmt.Errorf("config %s: unknown key %s", path, key)
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.RPCToken = strings.TrimSpace(os.Getenv(RPCTokenEnv))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv(JWTSecretEnv))
	if dsn := strings.TrimSpace(os.Getenv(EventDSNEnv)); dsn != "" {
		cfg.EventDSN = dsn
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// fileFees is the on-disk form of the fee policy. The policy decodes these
// keys through its own TOML hook.
type fileFees struct {
	Enabled     bool   `toml:"enabled"`
	BasisPoints uint32 `toml:"basis_points"`
	Recipient   string `toml:"recipient,omitempty"`
}

type fileConfig struct {
	RPCAddress     string    `toml:"RPCAddress"`
	MetricsAddress string    `toml:"MetricsAddress"`
	DataDir        string    `toml:"DataDir"`
	EventDSN       string    `toml:"EventDSN"`
	GenesisFile    string    `toml:"GenesisFile"`
	Environment    string    `toml:"Environment"`
	Clearing       Clearing  `toml:"Clearing"`
	Fees           fileFees  `toml:"Fees"`
	Logging        Logging   `toml:"Logging"`
	RateLimit      RateLimit `toml:"RateLimit"`
	Auth           Auth      `toml:"Auth"`
	Telemetry      Telemetry `toml:"Telemetry"`
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

	out := fileConfig{
		RPCAddress:     cfg.RPCAddress,
		MetricsAddress: cfg.MetricsAddress,
		DataDir:        cfg.DataDir,
		EventDSN:       cfg.EventDSN,
		GenesisFile:    cfg.GenesisFile,
		Environment:    cfg.Environment,
		Clearing:       cfg.Clearing,
		Fees:           fileFees{Enabled: cfg.Fees.Enabled, BasisPoints: cfg.Fees.BasisPoints},
		Logging:        cfg.Logging,
		RateLimit:      cfg.RateLimit,
		Auth:           cfg.Auth,
		Telemetry:      cfg.Telemetry,
	}
	if cfg.Fees.Recipient != ([20]byte{}) {
		out.Fees.Recipient = common.Address(cfg.Fees.Recipient).Hex()
	}
	return toml.NewEncoder(f).Encode(out)
}
