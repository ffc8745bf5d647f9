package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("store", "", "")
	flags.String("oracle", "", "")
	flags.String("prices", "", "")
	flags.String("kafka-brokers", "", "")
	flags.Duration("oracle-max-age", 0, "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreFile || cfg.Oracle != OracleStatic {
		t.Fatalf("unexpected backends: %s %s", cfg.Store, cfg.Oracle)
	}
	if cfg.OracleMaxAge != 7200*time.Second {
		t.Fatalf("unexpected oracle max age: %s", cfg.OracleMaxAge)
	}
	if cfg.AccrueInterval != 0 {
		t.Fatalf("background accrual should be off by default, got %s", cfg.AccrueInterval)
	}
	if cfg.LiquidationPlanner != PlannerNone {
		t.Fatalf("unexpected planner: %s", cfg.LiquidationPlanner)
	}
	if cfg.NATSSubject != "lending.alerts" || cfg.KafkaTopic != "lending.alerts" {
		t.Fatalf("unexpected alert defaults: %+v", cfg)
	}
}

func TestLoadFlagsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LENDING_NATS_URL", "nats://localhost:4222")

	flags := testFlags()
	if err := flags.Parse([]string{
		"--store=memory",
		"--prices=ETH=2000, USDC=1",
		"--kafka-brokers=a:9092, ,b:9092",
	}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Fatalf("unexpected store: %s", cfg.Store)
	}
	if cfg.Prices["ETH"] != 2000 || cfg.Prices["USDC"] != 1 || len(cfg.Prices) != 2 {
		t.Fatalf("unexpected prices: %+v", cfg.Prices)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %+v", cfg.KafkaBrokers)
	}
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Fatalf("env not applied: %q", cfg.NATSURL)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lending.yaml")
	body := `
store: memory
oracle: chainlink
rpc: http://localhost:8545
price-decimals: 8
feeds:
  ETH: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Oracle != OracleChainlink || cfg.PriceDecimals != 8 {
		t.Fatalf("unexpected oracle config: %+v", cfg)
	}
	if cfg.Feeds["ETH"] == "" {
		t.Fatalf("feeds not loaded: %+v", cfg.Feeds)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	cases := map[string][]string{
		"unknown store":  {"--store=redis"},
		"unknown oracle": {"--oracle=pyth"},
		"bad price":      {"--prices=ETH=abc"},
		"missing feeds":  {"--oracle=chainlink"},
		"missing file":   {"--oracle=file"},
		"missing pg dsn": {"--store=postgres"},
		"max age 7201s":  {"--oracle-max-age=7201s"},
		"max age 48h":    {"--oracle-max-age=48h"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			flags := testFlags()
			if err := flags.Parse(args); err != nil {
				t.Fatalf("parse: %v", err)
			}
			if _, err := Load("", flags); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseStringMap(t *testing.T) {
	got := parseStringMap(" ETH = 1 ,bad,=2,USDC=")
	if len(got) != 1 || got["ETH"] != "1" {
		t.Fatalf("unexpected map: %+v", got)
	}
	if len(splitAndClean("")) != 0 {
		t.Fatalf("expected empty slice")
	}
}

func TestLoadAcceptsTighterOracleMaxAge(t *testing.T) {
	t.Chdir(t.TempDir())

	flags := testFlags()
	if err := flags.Parse([]string{"--oracle-max-age=7200s"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OracleMaxAge != 7200*time.Second {
		t.Fatalf("unexpected oracle max age: %s", cfg.OracleMaxAge)
	}
}
