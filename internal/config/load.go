// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/flicker/credsvc/internal/status"
)

// EnvVar selects the environment when no --env flag is given.
const EnvVar = "CREDSVC_ENV"

// DefaultEnv is used when neither --env nor CREDSVC_ENV is set.
const DefaultEnv = "development"

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// File is an explicit config file. It must exist when set.
	File string
	// Dir is searched for config.<env>.yaml, then config.yaml, when File is empty.
	Dir string
	// Env overrides CREDSVC_ENV.
	Env string
	// Flags, when set, override file values for every flag that was changed.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys. Flags not listed are ignored.
	FlagKeys map[string]string
}

// Load builds a Config from defaults, the selected file and flags, in that
// order of precedence, and validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	path, err := resolveFile(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(status.ErrCodeConfigLoad).
				With("path", path).
				Wrapf(err, "failed to read config file")
		}
	}

	if opts.Flags != nil && len(opts.FlagKeys) > 0 {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(status.ErrCodeConfigLoad).Wrapf(err, "failed to apply flags")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(status.ErrCodeConfigLoad).
			With("path", path).
			Wrapf(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveFile picks the config file to load. It returns "" when no file
// applies and defaults alone should be used.
func resolveFile(opts LoadOptions) (string, error) {
	if opts.File != "" {
		if _, err := os.Stat(opts.File); err != nil {
			return "", oops.Code(status.ErrCodeConfigLoad).
				With("path", opts.File).
				Wrapf(err, "config file not found")
		}
		return opts.File, nil
	}

	env := opts.Env
	if env == "" {
		env = os.Getenv(EnvVar)
	}
	if env == "" {
		env = DefaultEnv
	}

	candidates := []string{
		filepath.Join(opts.Dir, "config."+env+".yaml"),
		filepath.Join(opts.Dir, "config.yaml"),
	}
	for _, candidate := range candidates {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", oops.Code(status.ErrCodeConfigLoad).
				With("path", candidate).
				Wrapf(err, "failed to stat config file")
		}
	}
	return "", nil
}
