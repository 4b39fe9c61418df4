// Package config loads the escrow daemon's configuration, in the style
// of lnd.go's loadConfig: a flags-tagged struct parsed first from an
// optional ini file, then overridden by command-line flags, using the
// same github.com/jessevdk/go-flags library the teacher's go-flags
// fork (github.com/btcsuite/go-flags) descends from; the fork itself
// was not present in the retrieved pack, so the upstream project
// already pinned in go.mod is used directly.
package config

import (
	"os"
	"time"

	"github.com/go-errors/errors"
	"github.com/jessevdk/go-flags"
	"github.com/shopspring/decimal"
)

const (
	defaultConfigFilename = "escrowsvcd.conf"
	defaultLogFilename    = "escrowsvcd.log"
	defaultMaxLogRolls    = 3
	defaultRPCPort        = 10019
	defaultPollInterval   = 5 * time.Second
	defaultBatchSize      = 10
	defaultMinTRXBalance  = "50"
)

// Config is the full set of daemon options, populated by LoadConfig.
type Config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`

	DataDir string `long:"datadir" description:"Directory to store escrow daemon state"`
	LogDir  string `long:"logdir" description:"Directory to log output"`
	Debug   string `long:"debuglevel" description:"Logging level for all subsystems"`

	RPCListen string `long:"rpclisten" description:"Interface/port for an RPC listener (unused: escrowsvcd opens no RPC server)"`

	Postgres     string `long:"postgres" description:"Postgres connection DSN"`
	WalletSecret string `long:"walletsecret" description:"Symmetric secret used to encrypt/decrypt wallet mnemonics"`

	Blockchain string `long:"blockchain" description:"Blockchain backend name" default:"tron"`
	Network    string `long:"network" description:"Network name (mainnet, shasta, nile)" default:"mainnet"`
	NodeURL string `long:"nodeurl" description:"Full node / TronGrid RPC endpoint"`

	DefaultTokenContract string `long:"defaulttokencontract" description:"TRC20 contract address used when a deal's requisites omit one"`

	Provisioner ProvisionerConfig `group:"Provisioner" namespace:"provisioner"`
}

// ProvisionerConfig is the reconciliation loop's tunables, surfaced
// under the [Provisioner] ini section / --provisioner.* flags.
type ProvisionerConfig struct {
	PollInterval  time.Duration `long:"pollinterval" description:"Delay between reconciliation ticks"`
	BatchSize     int           `long:"batchsize" description:"Maximum escrows claimed per batch"`
	MinTRXBalance string        `long:"mintrxbalance" description:"Minimum native balance an escrow account must carry"`
}

// MinTRXBalanceDecimal parses ProvisionerConfig.MinTRXBalance, falling
// back to the default if unset or malformed.
func (p ProvisionerConfig) MinTRXBalanceDecimal() decimal.Decimal {
	if p.MinTRXBalance == "" {
		d, _ := decimal.NewFromString(defaultMinTRXBalance)
		return d
	}
	d, err := decimal.NewFromString(p.MinTRXBalance)
	if err != nil {
		d, _ = decimal.NewFromString(defaultMinTRXBalance)
	}
	return d
}

// defaultConfig returns a Config pre-filled with the same defaults
// lnd.go's loadConfig seeds before reading the ini file or flags.
func defaultConfig() Config {
	return Config{
		ConfigFile: defaultConfigFilename,
		LogDir:     ".",
		Debug:      "info",
		RPCListen:  "localhost:10019",
		Blockchain: "tron",
		Network:    "mainnet",
		Provisioner: ProvisionerConfig{
			PollInterval:  defaultPollInterval,
			BatchSize:     defaultBatchSize,
			MinTRXBalance: defaultMinTRXBalance,
		},
	}
}

// LoadConfig parses the configuration file (if one exists at the
// default or overridden path) and then command-line flags on top of
// it, command-line flags taking precedence, matching the two-pass
// ini-then-flags parse lnd.go performs in loadConfig.
func LoadConfig() (*Config, error) {
	preCfg := defaultConfig()
	if _, err := flags.NewParser(&preCfg, flags.Default).Parse(); err != nil {
		return nil, err
	}

	cfg := preCfg
	if preCfg.ConfigFile != "" {
		if _, err := os.Stat(preCfg.ConfigFile); err == nil {
			parser := flags.NewParser(&cfg, flags.Default)
			if err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile); err != nil {
				return nil, err
			}
		}
	}

	if _, err := flags.NewParser(&cfg, flags.Default).Parse(); err != nil {
		return nil, err
	}

	if cfg.Provisioner.PollInterval <= 0 {
		cfg.Provisioner.PollInterval = defaultPollInterval
	}
	if cfg.Provisioner.BatchSize <= 0 {
		cfg.Provisioner.BatchSize = defaultBatchSize
	}

	if cfg.Postgres == "" {
		return nil, errors.New("config: --postgres is required")
	}
	if cfg.WalletSecret == "" {
		return nil, errors.New("config: --walletsecret is required")
	}

	return &cfg, nil
}
