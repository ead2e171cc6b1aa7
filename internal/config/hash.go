package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile sits next to the config file. When present, Load refuses a
// config whose hash does not match.
const ChecksumFile = ".checksums"

// ChecksumManifest records BLAKE3 hashes of config files by base name.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// GenerateChecksums hashes configPath and writes the manifest beside it,
// preserving entries for other files in the same directory.
func GenerateChecksums(configPath string) (*ChecksumManifest, error) {
	dir := filepath.Dir(configPath)

	manifest, err := LoadChecksums(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if manifest == nil {
		manifest = &ChecksumManifest{Version: 1, Hashes: make(map[string]string)}
	}

	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", filepath.Base(configPath), err)
	}
	manifest.Hashes[filepath.Base(configPath)] = hash
	manifest.GeneratedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Write with restrictive permissions (contains expected hashes)
	if err := os.WriteFile(filepath.Join(dir, ChecksumFile), data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	return manifest, nil
}

// LoadChecksums reads the manifest from dir. A missing manifest returns an
// error wrapping os.ErrNotExist.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	if manifest.Hashes == nil {
		manifest.Hashes = make(map[string]string)
	}
	return &manifest, nil
}

// verifyChecksums checks configPath against a manifest in its directory, if
// one exists and lists it.
func verifyChecksums(configPath string) error {
	manifest, err := LoadChecksums(filepath.Dir(configPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	expected, ok := manifest.Hashes[filepath.Base(configPath)]
	if !ok {
		return fmt.Errorf("%s has no hash in %s (run 'tracetap config lock')", filepath.Base(configPath), ChecksumFile)
	}
	if err := VerifyFileHash(configPath, expected); err != nil {
		return fmt.Errorf("config verification failed: %w\n"+
			"If you edited this file intentionally, run: tracetap config lock", err)
	}
	return nil
}
