package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/miniscript"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultContext     = "segwitv0"
	defaultLogLevel    = "info"
	defaultLogFilename = "msc.log"
	defaultMaxMemo     = 100000
)

var mscHomeDir = btcutil.AppDataDir("msc", false)

// config defines the configuration options for msc.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Context    string `short:"c" long:"context" description:"Script context: legacy, segwitv0, taproot or bare"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	LogDir     string `long:"logdir" description:"Directory to log output; logs only go to stderr if empty"`
	MaxMemo    int    `long:"maxmemo" description:"Search budget of the policy compiler"`
	Tree       bool   `long:"tree" description:"Print the fragment tree with the type of every node"`

	ctx miniscript.ScriptContext
}

// usage is printed after the flag help.
const usage = `
Commands:
  compile <policy>      Compile a policy into the cheapest miniscript
  parse <miniscript>    Type check a miniscript and print its script
  decode <hex script>   Decode a script into its miniscript
  lift <miniscript>     Print the spending policy of a miniscript`

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		Context:    defaultContext,
		DebugLevel: defaultLogLevel,
		MaxMemo:    defaultMaxMemo,
	}

	// Parse command line options.
	parser := flags.NewParser(&cfg, flags.Default)
	parser.Usage = "[OPTIONS] <command> <argument>\n" + usage
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	cfg.ctx, err = miniscript.ParseScriptContext(cfg.Context)
	if err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	if cfg.MaxMemo <= 0 {
		err := fmt.Errorf("loadConfig: the compiler search budget "+
			"must be positive, got %d", cfg.MaxMemo)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	if cfg.LogDir != "" {
		logFile := filepath.Join(cleanAndExpandPath(cfg.LogDir),
			defaultLogFilename)
		if err := initLogRotator(logFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	if len(remainingArgs) != 2 {
		err := fmt.Errorf("loadConfig: expected a command and one " +
			"argument")
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if len(path) > 0 && path[0] == '~' {
		homeDir := filepath.Dir(mscHomeDir)
		path = filepath.Join(homeDir, path[1:])
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
