// SPDX-License-Identifier: MIT

package keyset

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ManagedFileName is the name of the keyset file under the data directory.
const ManagedFileName = "keyset.json"

// ErrExternalKeyset is returned when rotation is attempted on a keyset the
// service does not manage.
var ErrExternalKeyset = errors.New("keyset is externally supplied; rotate it where it is managed")

// LoadOptions selects the keyset source. At most one of KeysetJSON and
// KeysetFile may be set (config enforces this); when neither is, the keyset
// is managed under DataDir.
type LoadOptions struct {
	// KeysetJSON is the full JWK Set JSON from the environment.
	KeysetJSON string

	// KeysetFile is a path to the same JSON.
	KeysetFile string

	// DataDir is where a managed keyset lives.
	DataDir string
}

// Provider owns the active keyset and publishes replacements atomically.
// Readers snapshot the whole generation with Current, so an in-flight
// verification never observes signing and encryption keys from different
// generations.
type Provider struct {
	current atomic.Pointer[Keyset]

	// managedPath is set only for managed keysets; external keysets are
	// never persisted and cannot rotate.
	managedPath string
}

// Load builds a Provider from the configured source. Managed mode
// materializes a fresh keyset on first run.
func Load(opts LoadOptions) (*Provider, error) {
	p := &Provider{}

	switch {
	case opts.KeysetJSON != "":
		ks, err := Parse([]byte(opts.KeysetJSON))
		if err != nil {
			return nil, fmt.Errorf("KEYSET: %w", err)
		}
		slog.Debug("loaded external keyset from environment", "kid", ks.Signing.KeyID)
		p.current.Store(ks)

	case opts.KeysetFile != "":
		data, err := os.ReadFile(opts.KeysetFile)
		if err != nil {
			return nil, fmt.Errorf("KEYSET_FILE: %w", err)
		}
		ks, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("KEYSET_FILE %s: %w", opts.KeysetFile, err)
		}
		slog.Debug("loaded external keyset from file", "path", opts.KeysetFile, "kid", ks.Signing.KeyID)
		p.current.Store(ks)

	default:
		p.managedPath = filepath.Join(opts.DataDir, ManagedFileName)
		ks, err := loadOrCreateManaged(p.managedPath)
		if err != nil {
			return nil, err
		}
		p.current.Store(ks)
	}

	return p, nil
}

// Current returns the active keyset snapshot.
func (p *Provider) Current() *Keyset {
	return p.current.Load()
}

// Managed reports whether the provider owns the keyset file.
func (p *Provider) Managed() bool {
	return p.managedPath != ""
}

// Rotate generates a fresh keyset, persists it, and swaps it in atomically.
// Every token minted under the previous generation becomes invalid; there is
// no grace period.
func (p *Provider) Rotate() (*Keyset, error) {
	if !p.Managed() {
		return nil, ErrExternalKeyset
	}
	ks, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := writeKeysetFile(p.managedPath, ks); err != nil {
		return nil, err
	}
	p.current.Store(ks)
	slog.Info("rotated keyset", "kid", ks.Signing.KeyID)
	return ks, nil
}

func loadOrCreateManaged(path string) (*Keyset, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		ks, parseErr := Parse(data)
		if parseErr != nil {
			return nil, fmt.Errorf("managed keyset %s: %w", path, parseErr)
		}
		return ks, nil

	case errors.Is(err, os.ErrNotExist):
		ks, genErr := Generate()
		if genErr != nil {
			return nil, genErr
		}
		if writeErr := writeKeysetFile(path, ks); writeErr != nil {
			return nil, writeErr
		}
		slog.Info("generated managed keyset", "path", path, "kid", ks.Signing.KeyID)
		return ks, nil

	default:
		return nil, fmt.Errorf("failed to read managed keyset %s: %w", path, err)
	}
}

// writeKeysetFile persists privately, atomically: temp file in the same
// directory, then rename.
func writeKeysetFile(path string, ks *Keyset) error {
	data, err := ks.JSON()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create keyset directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ManagedFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to stage keyset file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict keyset file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write keyset file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to finish keyset file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to install keyset file: %w", err)
	}
	return nil
}
