// Package config loads proofstamp settings from a YAML file and the
// environment, and validates them against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/proofstamp/internal/anchor"
	"github.com/roach88/proofstamp/internal/ledger"
	"github.com/roach88/proofstamp/internal/proof"
)

// DefaultPath is read when no --config flag is given. A missing default
// file is not an error.
const DefaultPath = "proofstamp.yaml"

// Ledger drivers.
const (
	DriverMemory   = "memory"
	DriverEthereum = "ethereum"
)

// Environment overrides, applied after the file.
const (
	EnvDB         = "PROOFSTAMP_DB"
	EnvRPCURL     = "PROOFSTAMP_RPC_URL"
	EnvPrivateKey = "PROOFSTAMP_PRIVATE_KEY"
	EnvContract   = "PROOFSTAMP_CONTRACT"
)

//go:embed schema.cue
var schemaSource string

// Config is the full process configuration. yaml and json tags match; the
// json form is what the CUE schema sees.
type Config struct {
	DB       string `yaml:"db" json:"db"`
	Timezone string `yaml:"timezone" json:"timezone"`

	Log    LogConfig    `yaml:"log" json:"log"`
	Ledger LedgerConfig `yaml:"ledger" json:"ledger"`
	Limits LimitsConfig `yaml:"limits" json:"limits"`
}

type LogConfig struct {
	Format string `yaml:"format" json:"format"`
	Level  string `yaml:"level" json:"level"`
}

type LedgerConfig struct {
	Driver     string `yaml:"driver" json:"driver"`
	Network    string `yaml:"network" json:"network"`
	RPCURL     string `yaml:"rpc_url" json:"rpc_url"`
	PrivateKey string `yaml:"private_key" json:"private_key"`
	Contract   string `yaml:"contract" json:"contract"`

	Confirmations    uint64        `yaml:"confirmations" json:"confirmations"`
	GasMarginPercent uint64        `yaml:"gas_margin_percent" json:"gas_margin_percent"`
	ConfirmTimeout   time.Duration `yaml:"confirm_timeout" json:"confirm_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval" json:"poll_interval"`
	Window           uint64        `yaml:"window" json:"window"`
	QueryRetries     int           `yaml:"query_retries" json:"query_retries"`
}

type LimitsConfig struct {
	TextBytes int64 `yaml:"text_bytes" json:"text_bytes"`
	FileBytes int64 `yaml:"file_bytes" json:"file_bytes"`
}

// Default returns the built-in configuration: a local SQLite file and the
// in-process ledger.
func Default() Config {
	return Config{
		DB:       "proofstamp.db",
		Timezone: "Local",
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Ledger: LedgerConfig{
			Driver:           DriverMemory,
			Network:          "memory",
			Confirmations:    1,
			GasMarginPercent: ledger.DefaultGasMarginPercent,
			ConfirmTimeout:   2 * time.Minute,
			PollInterval:     2 * time.Second,
			Window:           ledger.DefaultWindow,
			QueryRetries:     2,
		},
		Limits: LimitsConfig{
			TextBytes: anchor.DefaultTextLimit,
			FileBytes: anchor.DefaultFileLimit,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
//
// path "" means DefaultPath, which may be absent. An explicitly named file
// must exist. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse YAML: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDB); v != "" {
		c.DB = v
	}
	if v := getenv(EnvRPCURL); v != "" {
		c.Ledger.RPCURL = v
	}
	if v := getenv(EnvPrivateKey); v != "" {
		c.Ledger.PrivateKey = v
	}
	if v := getenv(EnvContract); v != "" {
		c.Ledger.Contract = v
	}
}

// Validate checks c against the embedded schema and resolves the timezone.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := ctx.Encode(c)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return proof.NewValidationError("invalid config: " + cueerrors.Details(err, nil))
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. "" and "Local" mean the process zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, proof.NewValidationError(fmt.Sprintf("invalid config: timezone %q: %v", c.Timezone, err))
	}
	return loc, nil
}

// EthConfig returns the settings for ledger.DialEth.
func (c Config) EthConfig() ledger.EthConfig {
	l := c.Ledger
	return ledger.EthConfig{
		RPCURL:           l.RPCURL,
		PrivateKey:       l.PrivateKey,
		Contract:         l.Contract,
		Network:          l.Network,
		Confirmations:    l.Confirmations,
		GasMarginPercent: l.GasMarginPercent,
		ConfirmTimeout:   l.ConfirmTimeout,
		PollInterval:     l.PollInterval,
		Window:           l.Window,
		QueryRetries:     l.QueryRetries,
	}
}
