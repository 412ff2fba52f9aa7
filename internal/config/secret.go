// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/xdg"
)

// SigningKey returns the token signing key. token.secret is used as is;
// otherwise the hex key in token.secret_file is read, and created with a
// fresh random key when the file does not exist yet.
func (c *Config) SigningKey() ([]byte, error) {
	if c.Token.Secret != "" {
		return []byte(c.Token.Secret), nil
	}
	path := c.Token.SecretFile

	data, err := os.ReadFile(path) //nolint:gosec // configured path
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, oops.Code("CONFIG_SECRET_INVALID").With("path", path).Wrap(err)
		}
		if len(key) < auth.MinSigningKeyBytes {
			return nil, oops.Code("CONFIG_SECRET_INVALID").With("path", path).Errorf("signing key is too short")
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.Code("CONFIG_SECRET_READ_FAILED").With("path", path).Wrap(err)
	}

	key := make([]byte, auth.MinSigningKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, oops.Code("CONFIG_SECRET_GENERATE_FAILED").Wrap(err)
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return nil, oops.Code("CONFIG_SECRET_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return key, nil
}
