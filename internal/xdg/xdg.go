// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package xdg locates SnapWave's files under the XDG Base Directory layout.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "snapwave"

// ConfigFileName is the file looked up in ConfigDir when no --config is given.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for snapwave.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns ConfigDir()/config.yaml if it exists, or "" if it does not.
func ConfigFile() (string, error) {
	path := filepath.Join(ConfigDir(), ConfigFileName)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	case info.IsDir():
		return "", oops.Code("CONFIG_LOAD_FAILED").With("path", path).Errorf("%s is a directory", path)
	}
	return path, nil
}
