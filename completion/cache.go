// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package completion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcpanel/mcpanel/lib/codec"
)

// cacheRecord is the on-disk fallback: the root names of the last tree
// received for one server.
type cacheRecord struct {
	Server string    `cbor:"server"`
	Digest []byte    `cbor:"digest"`
	Roots  []string  `cbor:"roots"`
	Saved  time.Time `cbor:"saved"`
}

func cachePath(directory, server string) string {
	return filepath.Join(directory, "commands-"+server+".cbor.zst")
}

// readCache returns the cached record for server, or nil if there is
// none.
func readCache(path string) (*cacheRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading completion cache: %w", err)
	}
	var record cacheRecord
	if err := codec.UnmarshalCompressed(data, &record); err != nil {
		return nil, fmt.Errorf("decoding completion cache %s: %w", path, err)
	}
	return &record, nil
}

// writeCache atomically replaces the cache file.
func writeCache(path string, record cacheRecord) error {
	data, err := codec.MarshalCompressed(record)
	if err != nil {
		return fmt.Errorf("encoding completion cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating completion cache directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), "commands-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing completion cache: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming completion cache to %s: %w", path, err)
	}
	success = true
	return nil
}
