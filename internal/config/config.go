// Package config resolves process settings and loads the YAML documents
// that drive a mount (layouts) and a dump (rules).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/agentic-research/ppd/api"
)

// Setting keys. Each is read from its flag, then PPD_<KEY>, then the default.
const (
	KeyDatabase      = "database"
	KeyDumpDirectory = "dump_directory"
	KeyLayout        = "layout"
	KeyVerbose       = "verbose"
)

// DefaultDatabase is used when neither flag nor environment names one.
const DefaultDatabase = "theppd.db"

// Settings are the resolved process-wide options.
type Settings struct {
	Database      string
	DumpDirectory string
	// Layout is the dump rules file used for auto-dump and `ppd dump`.
	Layout  string
	Verbose bool
}

// AutoDump reports whether mutations should be mirrored to disk.
func (s Settings) AutoDump() bool {
	return s.DumpDirectory != "" && s.Layout != ""
}

// Resolve merges flags, environment and defaults. flagNames maps setting
// keys to the flag names that carry them; missing entries are skipped.
func Resolve(flags *pflag.FlagSet, flagNames map[string]string) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("PPD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDatabase, DefaultDatabase)
	v.SetDefault(KeyDumpDirectory, "")
	v.SetDefault(KeyLayout, "")
	v.SetDefault(KeyVerbose, false)

	for key, name := range flagNames {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return Settings{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	return Settings{
		Database:      v.GetString(KeyDatabase),
		DumpDirectory: v.GetString(KeyDumpDirectory),
		Layout:        v.GetString(KeyLayout),
		Verbose:       v.GetBool(KeyVerbose),
	}, nil
}

// LoadLayout reads a mount layout file.
func LoadLayout(path string) (*api.Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout %s: %w", path, err)
	}
	l, err := api.ParseLayout(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// LoadDumpConfig reads a dump rules file.
func LoadDumpConfig(path string) (*api.DumpConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dump rules %s: %w", path, err)
	}
	c, err := api.ParseDumpConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
