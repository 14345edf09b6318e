// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rawstore persists raw RFC 822 message content on the filesystem.
// Filenames are derived from a SHA-256 of the account and provider message
// IDs, so re-saving the same message lands on the same path and two
// messages can never collide.
package rawstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Store writes raw message content under a base directory, one
// subdirectory per account.
type Store struct {
	baseDir string
}

// New creates a raw store rooted at baseDir, creating it if needed.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw store dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Key derives the deterministic storage key for a message.
func Key(accountID, providerMessageID string) string {
	sum := sha256.Sum256([]byte(accountID + "/" + providerMessageID))
	return hex.EncodeToString(sum[:])
}

// Save writes content under the given account and key and returns the path.
// The write goes to a temp file first and is renamed into place, so a
// partially written file is never visible at the final path.
func (s *Store) Save(accountID, key string, content []byte) (string, error) {
	dir := filepath.Join(s.baseDir, accountID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create account dir: %w", err)
	}

	path := filepath.Join(dir, key+".eml")
	tmp, err := os.CreateTemp(dir, key+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write raw content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename into place: %w", err)
	}

	return path, nil
}

// Read returns the raw content stored at path.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read raw content %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the raw content at path. Deleting a missing file is not
// an error.
func (s *Store) Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete raw content %s: %w", path, err)
	}
	return nil
}
