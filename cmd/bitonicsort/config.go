package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds the demo settings. It can be loaded from a TOML or YAML file
// and overridden by command-line flags.
type Config struct {
	Length        uint64 `toml:"length" yaml:"length"`
	Seed          uint64 `toml:"seed" yaml:"seed"`
	Backend       string `toml:"backend" yaml:"backend"`
	Runs          int    `toml:"runs" yaml:"runs"`
	CPU           bool   `toml:"cpu" yaml:"cpu"`
	Validate      bool   `toml:"validate" yaml:"validate"`
	ReadbackChunk uint64 `toml:"readback_chunk" yaml:"readback_chunk"`
	Lang          string `toml:"lang" yaml:"lang"`
	List          bool   `toml:"list" yaml:"list"`
	Verbose       bool   `toml:"verbose" yaml:"verbose"`
}

func defaultConfig() Config {
	return Config{
		Length:   1 << 16,
		Runs:     1,
		CPU:      true,
		Validate: true,
		Lang:     "en",
	}
}

// bindFlags registers a flag for every Config field, using the current
// field values as defaults.
func bindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.Uint64Var(&cfg.Length, "n", cfg.Length, "number of elements (power of two)")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed (0 picks one)")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "backend name (empty tries native, then software)")
	fs.IntVar(&cfg.Runs, "runs", cfg.Runs, "number of GPU sorts to time")
	fs.BoolVar(&cfg.CPU, "cpu", cfg.CPU, "also sort on the CPU for reference")
	fs.BoolVar(&cfg.Validate, "validate", cfg.Validate, "check that results are sorted")
	fs.Uint64Var(&cfg.ReadbackChunk, "readback-chunk", cfg.ReadbackChunk, "readback chunk size in bytes (0 = default)")
	fs.StringVar(&cfg.Lang, "lang", cfg.Lang, "BCP 47 language tag for number formatting")
	fs.BoolVar(&cfg.List, "list", cfg.List, "list the supported lengths and exit")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "enable debug logging")
}

// parseConfig parses args. Values from the -config file replace the
// defaults, and flags given explicitly replace file values.
// Parse errors and usage are written to w.
func parseConfig(args []string, w io.Writer) (Config, error) {
	cfg := defaultConfig()
	fs := flag.NewFlagSet("bitonicsort", flag.ContinueOnError)
	fs.SetOutput(w)
	configPath := fs.String("config", "", "TOML or YAML config file")
	bindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if *configPath == "" {
		return cfg, nil
	}

	fileCfg := defaultConfig()
	if err := loadConfig(*configPath, &fileCfg); err != nil {
		return cfg, err
	}
	overrides := flag.NewFlagSet("overrides", flag.ContinueOnError)
	bindFlags(overrides, &fileCfg)
	var setErr error
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" || setErr != nil {
			return
		}
		setErr = overrides.Set(f.Name, f.Value.String())
	})
	return fileCfg, setErr
}

// loadConfig decodes a config file into cfg. The format is chosen by the
// file extension.
func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("config: unsupported format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}
