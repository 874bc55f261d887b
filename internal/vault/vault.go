// Package vault serves the on-disk game resources offered to clients: the
// ROM images themselves and the info pages (a text record plus an art asset
// per title).
package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound indicates the named ROM, info record, or art asset does not
// exist in the vault.
var ErrNotFound = errors.New("resource not found")

// Layout under the info directory, matching the server data tree.
const (
	textSubdir = "Text"
	artSubdir  = "Art"
)

// Vault reads game resources by name from the configured directories. All
// file access is serialized by a single lock; throughput matters less than
// never observing a partially rewritten file if the resource set is updated
// out from under a running server.
type Vault struct {
	romDir  string
	infoDir string

	fileMu sync.Mutex
}

func New(romDir, infoDir string) *Vault {
	return &Vault{romDir: romDir, infoDir: infoDir}
}

// Manifest returns the list of available ROM names joined with '!', with a
// trailing '!', which is the form the MAN response carries.
func (v *Vault) Manifest() (string, error) {
	v.fileMu.Lock()
	defer v.fileMu.Unlock()

	entries, err := os.ReadDir(v.romDir)
	if err != nil {
		return "", fmt.Errorf("reading rom directory: %w", err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		b.WriteString(entry.Name())
		b.WriteByte('!')
	}
	return b.String(), nil
}

// ReadROM returns the full contents of the named ROM image.
func (v *Vault) ReadROM(name string) ([]byte, error) {
	v.fileMu.Lock()
	defer v.fileMu.Unlock()

	data, err := os.ReadFile(filepath.Join(v.romDir, sanitize(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("rom %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("reading rom %q: %w", name, err)
	}
	return data, nil
}

// ReadInfoText returns the comma-separated fields of the title's text record.
// The record must carry at least two fields (title blurb and description).
func (v *Vault) ReadInfoText(name string) ([]string, error) {
	v.fileMu.Lock()
	defer v.fileMu.Unlock()

	data, err := os.ReadFile(filepath.Join(v.infoDir, textSubdir, sanitize(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("info record %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("reading info record %q: %w", name, err)
	}

	fields := strings.Split(string(data), ",")
	if len(fields) < 2 {
		return nil, fmt.Errorf("info record %q has %d fields, want at least 2", name, len(fields))
	}
	return fields, nil
}

// FindArt returns the name and contents of the first art asset whose filename
// starts with prefix.
func (v *Vault) FindArt(prefix string) (string, []byte, error) {
	v.fileMu.Lock()
	defer v.fileMu.Unlock()

	artDir := filepath.Join(v.infoDir, artSubdir)
	entries, err := os.ReadDir(artDir)
	if err != nil {
		return "", nil, fmt.Errorf("reading art directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), sanitize(prefix)) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(artDir, entry.Name()))
		if err != nil {
			return "", nil, fmt.Errorf("reading art %q: %w", entry.Name(), err)
		}
		return entry.Name(), data, nil
	}

	return "", nil, fmt.Errorf("art for %q: %w", prefix, ErrNotFound)
}

// sanitize strips any path components from a client-provided resource name so
// requests cannot escape the vault directories.
func sanitize(name string) string {
	return filepath.Base(filepath.Clean(name))
}
