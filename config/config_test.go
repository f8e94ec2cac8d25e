package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clearing.toml")
	t.Setenv(RPCTokenEnv, "  secret  ")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8545" || cfg.DataDir != "./clearing-data" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RPCToken != "secret" {
		t.Fatalf("expected token from env, got %q", cfg.RPCToken)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Clearing != cfg.Clearing || reloaded.Fees != cfg.Fees || reloaded.RateLimit != cfg.RateLimit ||
		reloaded.Auth != cfg.Auth || reloaded.Telemetry != cfg.Telemetry {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clearing.toml")
	contents := `RPCAddress = "127.0.0.1:9000"
MetricsAddress = ""
DataDir = "/var/lib/clearing"
EventDSN = "postgres://clearing@localhost/events"
GenesisFile = "genesis.yaml"

[Clearing]
MinLeadSeconds = 3600
MinExerciseWindowSeconds = 7200

[Fees]
fees_enabled = true
fee_bps = 12
fee_to = "0x3030303030303030303030303030303030303030"

[Logging]
Level = "debug"
File = "/var/log/clearing.log"
MaxSizeMB = 10

[RateLimit]
RequestsPerMinute = 60.0
Burst = 5

[Auth]
Issuer = "clearing-auth"
Audience = "clearingd"

[Telemetry]
Tracing = true
Endpoint = "otel-collector:4318"
Headers = "x-tenant=desk"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	t.Setenv(EventDSNEnv, "")
	t.Setenv(JWTSecretEnv, " hmac-secret ")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.RPCAddress)
	require.Equal(t, int64(3600), cfg.Clearing.Params().MinLeadSeconds)
	require.Equal(t, int64(7200), cfg.Clearing.Params().MinExerciseWindowSeconds)
	require.True(t, cfg.Fees.Enabled)
	require.Equal(t, uint32(12), cfg.Fees.BasisPoints)
	require.Equal(t, byte(0x30), cfg.Fees.Recipient[0])
	require.Equal(t, "postgres://clearing@localhost/events", cfg.EventDSN)

	opts := cfg.Logging.Options()
	require.Equal(t, "debug", opts.Level)
	require.NotNil(t, opts.File)
	require.Equal(t, 10, opts.File.MaxSizeMB)

	// sections left out keep their defaults
	require.Equal(t, float64(120), cfg.RateLimit.MutatingPerMinute)
	require.Equal(t, 5, cfg.RateLimit.Burst)

	require.Equal(t, "clearing-auth", cfg.Auth.Issuer)
	require.Equal(t, "clearingd", cfg.Auth.Audience)
	require.Equal(t, int64(120), cfg.Auth.ClockSkewSeconds)
	require.Equal(t, "hmac-secret", cfg.JWTSecret)
	require.True(t, cfg.Telemetry.Tracing)
	require.False(t, cfg.Telemetry.Metrics)
	require.Equal(t, "otel-collector:4318", cfg.Telemetry.Endpoint)
}

func TestLoadEnvOverridesDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clearing.toml")
	require.NoError(t, os.WriteFile(path, []byte("RPCAddress = \":1\"\nDataDir = \"d\"\nEventDSN = \"file.db\"\n"), 0o644))
	t.Setenv(EventDSNEnv, "host=db user=clearing")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "host=db user=clearing", cfg.EventDSN)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "RPCAddress = \":1\"\nDataDir = \"d\"\nListenAddress = \":2\"\n",
		"missing rpc":       "RPCAddress = \"\"\nDataDir = \"d\"\n",
		"negative window":   "[Clearing]\nMinLeadSeconds = -1\n",
		"fees no recipient": "[Fees]\nenabled = true\nbasis_points = 5\n",
		"negative burst":    "[RateLimit]\nBurst = -3\n",
		"negative skew":     "[Auth]\nClockSkewSeconds = -1\n",
		"tracing no target": "[Telemetry]\nTracing = true\nEndpoint = \"\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "clearing.toml")
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
			if _, err := Load(path); err == nil {
				t.Fatalf("expected %s to fail", name)
			}
		})
	}
}

func TestLoadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	doc := `assets:
  - address: "0x0101010101010101010101010101010101010101"
    symbol: WETH
    allocations:
      - holder: "0x1010101010101010101010101010101010101010"
        amount: "1000000"
      - holder: "0x2020202020202020202020202020202020202020"
        amount: "5"
  - address: "0x0202020202020202020202020202020202020202"
    symbol: USDC
    allocations:
      - holder: "0x2020202020202020202020202020202020202020"
        amount: "100000000"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	genesis, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Len(t, genesis.Assets, 2)
	require.Equal(t, "WETH", genesis.Assets[0].Symbol)

	allocs := genesis.Allocations()
	require.Len(t, allocs, 3)
	require.Equal(t, byte(0x02), allocs[2].Asset[0])
	require.Equal(t, byte(0x20), allocs[2].Holder[0])
	require.Equal(t, int64(100000000), allocs[2].Amount.Int64())
}

func TestLoadGenesisRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad amount": "assets:\n  - address: \"0x0101010101010101010101010101010101010101\"\n    allocations:\n      - holder: \"0x1010101010101010101010101010101010101010\"\n        amount: \"-4\"\n",
		"zero holder": "assets:\n  - address: \"0x0101010101010101010101010101010101010101\"\n    allocations:\n      - holder: \"0x0000000000000000000000000000000000000000\"\n        amount: \"4\"\n",
		"duplicate":   "assets:\n  - address: \"0x0101010101010101010101010101010101010101\"\n  - address: \"0x0101010101010101010101010101010101010101\"\n",
		"unknown":     "assets:\n  - address: \"0x0101010101010101010101010101010101010101\"\n    decimals: 18\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "genesis.yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
			if _, err := LoadGenesis(path); err == nil {
				t.Fatalf("expected %s to fail", name)
			}
		})
	}
}
