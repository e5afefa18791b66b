// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"gitlab.com/phoenix-network/phoenixd/blockchain"
	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/corelog"
)

const (
	defaultConfigFilename = "phoenixd.yaml"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"

	defaultMaxPeers         = 125
	defaultTargetOutbound   = 32
	defaultBanDuration      = time.Hour * 24
	defaultBanThreshold     = 100
	defaultFreeTxRelayLimit = 15.0
	defaultMaxOrphanTxs     = blockchain.MaxOrphanTransactions
)

// Config defines the configuration options for phoenixd.
//
// See LoadConfig for details on the configuration load process.
type Config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file" yaml:"-"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data" yaml:"data_dir"`

	TestNet bool `long:"testnet" description:"Use the test network" yaml:"testnet"`
	SimNet  bool `long:"simnet" description:"Use the simulation test network" yaml:"simnet"`

	Listeners    []string `long:"listen" description:"Add an interface/port to listen for connections" yaml:"listeners"`
	ConnectPeers []string `long:"connect" description:"Connect only to the specified peers at startup" yaml:"connect_peers"`
	Proxy        string   `long:"proxy" description:"Connect via SOCKS5 proxy (host:port)" yaml:"proxy"`
	ExternalIP   string   `long:"externalip" description:"Add an ip to the list of local addresses we claim to listen on to peers" yaml:"external_ip"`

	MaxPeers       int           `long:"maxpeers" description:"Max number of inbound and outbound peers" yaml:"max_peers"`
	TargetOutbound int           `long:"targetoutbound" description:"Number of outbound connections to maintain" yaml:"target_outbound"`
	BanDuration    time.Duration `long:"banduration" description:"How long to ban misbehaving peers" yaml:"ban_duration"`
	BanThreshold   uint32        `long:"banthreshold" description:"Maximum allowed ban score before disconnecting and banning misbehaving peers" yaml:"ban_threshold"`

	FreeTxRelayLimit float64 `long:"limitfreerelay" description:"Limit relay of transactions with no transaction fee to the given amount in thousands of bytes per minute" yaml:"free_tx_relay_limit"`
	RelayNonStd      bool    `long:"relaynonstd" description:"Relay non-standard transactions regardless of the default network settings" yaml:"relay_non_std"`
	MaxOrphanTxs     int     `long:"maxorphantx" description:"Max number of orphan transactions to keep in memory" yaml:"max_orphan_txs"`

	Generate      bool   `long:"generate" description:"Generate (mine) coins using the CPU" yaml:"generate"`
	MiningScript  string `long:"miningscript" description:"Hex-encoded locking script generated blocks pay to" yaml:"mining_script"`
	MiningWorkers int    `long:"miningworkers" description:"Number of CPU mining workers" yaml:"mining_workers"`

	CheckpointMode string `long:"checkpointmode" description:"Synchronized checkpoint enforcement {strict, advisory, permissive}" yaml:"checkpoint_mode"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error}" yaml:"debug_level"`

	Log corelog.Config `group:"Logging" namespace:"log" yaml:"log"`
}

// defaultConfig returns the configuration with every default applied.
func defaultConfig() Config {
	return Config{
		ConfigFile:       defaultConfigFilename,
		DataDir:          defaultAppDataDir(),
		MaxPeers:         defaultMaxPeers,
		TargetOutbound:   defaultTargetOutbound,
		BanDuration:      defaultBanDuration,
		BanThreshold:     defaultBanThreshold,
		FreeTxRelayLimit: defaultFreeTxRelayLimit,
		MaxOrphanTxs:     defaultMaxOrphanTxs,
		MiningWorkers:    1,
		CheckpointMode:   "strict",
		DebugLevel:       defaultLogLevel,
		Log:              corelog.Config{}.Default(),
	}
}

// defaultAppDataDir returns the operating-system specific default data
// directory.
func defaultAppDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "phoenixd-data"
	}
	return filepath.Join(home, ".phoenixd", defaultDataDirname)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// normalizeAddresses returns a new slice with all the passed peer addresses
// normalized with the given default port, and all duplicates removed.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	seen := map[string]struct{}{}
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, defaultPort)
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}

// usageError wraps a configuration mistake the operator must fix; the
// daemon exits nonzero before the engine starts.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

// IsUsageError reports whether err was a configuration problem rather than a
// runtime failure.
func IsUsageError(err error) bool {
	_, ok := err.(usageError)
	return ok
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in proper functionality without any config settings
// while still allowing the user to override settings with config files and
// command line options.  Command line options always take precedence.
func LoadConfig() (*Config, *chaincfg.Params, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.IgnoreUnknown)
	if _, err := preParser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		return nil, nil, usageError{err}
	}

	// Load additional config from file.
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	if fileBytes, err := os.ReadFile(configFile); err == nil {
		if err := yaml.Unmarshal(fileBytes, &cfg); err != nil {
			return nil, nil, usageError{fmt.Errorf(
				"failed to parse config file %s: %v", configFile, err)}
		}
	} else if preCfg.ConfigFile != defaultConfigFilename {
		// An explicitly requested config file must exist.
		return nil, nil, usageError{fmt.Errorf(
			"config file %s cannot be read: %v", configFile, err)}
	}

	// Parse command line options again to ensure they take precedence.
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		return nil, nil, usageError{err}
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	params := &chaincfg.MainNetParams
	if cfg.TestNet {
		numNets++
		params = &chaincfg.TestNetParams
	}
	if cfg.SimNet {
		numNets++
		params = &chaincfg.SimNetParams
	}
	if numNets > 1 {
		return nil, nil, usageError{fmt.Errorf(
			"the testnet and simnet params can't be used together -- " +
				"choose one of the two")}
	}

	switch cfg.CheckpointMode {
	case "strict", "advisory", "permissive":
	default:
		return nil, nil, usageError{fmt.Errorf(
			"invalid checkpoint mode %q -- must be one of strict, advisory, "+
				"permissive", cfg.CheckpointMode)}
	}

	if cfg.BanThreshold == 0 {
		return nil, nil, usageError{fmt.Errorf("ban threshold must be non-zero")}
	}
	if cfg.FreeTxRelayLimit < 0 {
		return nil, nil, usageError{fmt.Errorf(
			"free transaction relay limit may not be negative")}
	}

	// Append the network name to the data directory so it is "namespaced"
	// per network.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, params.Name)

	// Default to listening on the network's canonical port on all
	// interfaces.
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{net.JoinHostPort("", params.DefaultPort)}
	}
	cfg.Listeners = normalizeAddresses(cfg.Listeners, params.DefaultPort)
	cfg.ConnectPeers = normalizeAddresses(cfg.ConnectPeers, params.DefaultPort)

	// The test networks relay non-standard transactions by default.
	if params.RelayNonStdTxs {
		cfg.RelayNonStd = true
	}

	return &cfg, params, nil
}

// CheckpointModeValue maps the textual checkpoint mode to the chain's
// enumeration.
func (cfg *Config) CheckpointModeValue() blockchain.CheckpointMode {
	switch cfg.CheckpointMode {
	case "advisory":
		return blockchain.CheckpointModeAdvisory
	case "permissive":
		return blockchain.CheckpointModePermissive
	default:
		return blockchain.CheckpointModeStrict
	}
}
