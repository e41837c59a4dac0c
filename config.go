package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "trackerd.log"
	defaultMaxLogRolls    = 3
	defaultServerHost     = "0.0.0.0"
	defaultServerPort     = 8080
	defaultErgoTimeout    = 30
	defaultCommitInterval = 600
	defaultAlertThreshold = 1.0
)

// serverConfig holds the REST listener settings.
type serverConfig struct {
	Host string `long:"host" description:"interface the HTTP API listens on"`
	Port int    `long:"port" description:"port the HTTP API listens on"`
}

// ergoConfig holds everything needed to reach an Ergo node's scan API and
// to fill in the reserve-box constants the tracker reasons about.
type ergoConfig struct {
	NodeURL            string `long:"node_url" description:"base URL of the Ergo node REST API"`
	APIKey             string `long:"api_key" description:"api_key header for the Ergo node, if it requires one"`
	TimeoutSecs        int    `long:"timeout_secs" description:"HTTP timeout, in seconds, for Ergo node requests"`
	ReserveContractP2S string `long:"reserve_contract_p2s" description:"P2S address of the reserve box contract"`
	TrackerNftID       string `long:"tracker_nft_id" description:"hex-encoded NFT id minted into the tracker's singleton box"`
	TrackerPublicKey   string `long:"tracker_public_key" description:"hex-encoded compressed public key the tracker co-signs redemptions with"`
}

// config is the fully parsed configuration for trackerd, grounded on the
// teacher's cfg/loadConfig shape (lnd.go): a single struct tagged for
// go-flags, populated from the command line and an optional config file,
// then validated and defaulted in loadConfig.
type config struct {
	DataDir    string `long:"datadir" description:"directory to store the tracker's bbolt database in"`
	LogDir     string `long:"logdir" description:"directory to store log files in"`
	ConfigFile string `long:"configfile" description:"path to a configuration file"`
	DebugLevel string `long:"debuglevel" description:"logging level for all subsystems, or <subsystem>=<level>,<subsystem>=<level>,... to set per-subsystem levels"`

	Server serverConfig `group:"Server" namespace:"server"`
	Ergo   ergoConfig   `group:"Ergo" namespace:"ergo"`

	CommitIntervalSecs       int     `long:"commit_interval_secs" description:"how often, in seconds, to log the tree's commitment digest and optionally submit it on-chain"`
	CommitSubmitTransaction  bool    `long:"commit_submit_transaction" description:"if set, broadcast the periodic commitment digest as an on-chain transaction instead of only logging it"`
	CollateralAlertThreshold float64 `long:"collateral_alert_threshold" description:"collateral/debt ratio below which a key's reserve is logged as undercollateralized"`
}

// defaultConfig returns a config pre-filled with sensible defaults, before
// flag/file parsing overrides them.
func defaultConfig() config {
	return config{
		DataDir:    defaultDataDirname,
		LogDir:     defaultLogDirname,
		DebugLevel: "info",
		Server: serverConfig{
			Host: defaultServerHost,
			Port: defaultServerPort,
		},
		Ergo: ergoConfig{
			TimeoutSecs: defaultErgoTimeout,
		},
		CommitIntervalSecs:       defaultCommitInterval,
		CommitSubmitTransaction:  false,
		CollateralAlertThreshold: defaultAlertThreshold,
	}
}

// loadConfig parses command-line flags (and, if present, a config file),
// applies defaults, and validates the result. Modeled on lnd.go's
// loadConfig: a pre-parse pass to find -configfile, an INI-file pass, then
// a flags pass so the command line always wins.
func loadConfig() (*config, error) {
	preCfg := defaultConfig()
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}

	cfg := defaultConfig()
	if preCfg.ConfigFile != "" {
		fileParser := flags.NewParser(&cfg, flags.Default)
		if err := flags.NewIniParser(fileParser).ParseFile(preCfg.ConfigFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("unable to parse config file: %w", err)
			}
		}
	}

	flagParser := flags.NewParser(&cfg, flags.Default)
	if _, err := flagParser.Parse(); err != nil {
		return nil, err
	}

	if cfg.Ergo.NodeURL == "" {
		return nil, fmt.Errorf("ergo.node_url is required")
	}

	var err error
	cfg.DataDir, err = cleanAndExpandPath(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.LogDir, err = cleanAndExpandPath(cfg.LogDir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}

	if err := initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename), defaultMaxLogRolls); err != nil {
		return nil, fmt.Errorf("unable to initialize log rotator: %w", err)
	}
	setLogLevels(cfg.DebugLevel)

	return &cfg, nil
}

// cleanAndExpandPath expands a leading ~ to the user's home directory and
// cleans the result, matching lnd.go's path-handling helper of the same
// name.
func cleanAndExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(homeDir, path[1:])
	}

	return filepath.Clean(os.ExpandEnv(path)), nil
}
