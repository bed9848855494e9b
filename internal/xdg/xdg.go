// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

// Package xdg locates credsvc's XDG base directories.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "credsvc"

// ConfigDir returns the directory searched for config files when no
// --config-dir is given. Checks XDG_CONFIG_HOME first, falls back to
// ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return "", oops.Errorf("neither XDG_CONFIG_HOME nor HOME is set")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}
