package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// cacheDirPerms is the permission for the cache directory.
	cacheDirPerms = 0o700
	entrySuffix   = ".json"
	tmpSuffix     = ".tmp"
)

// DiskStore persists entries as one JSON file per key in a dedicated
// directory. File names are the SHA256 of the key.
type DiskStore struct {
	dir string
}

// NewDiskStore opens (creating if needed) the cache directory dir, which
// must be an absolute path.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory not set")
	}
	cleanPath := filepath.Clean(dir)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("cache directory must be absolute path")
	}
	if err := os.MkdirAll(cleanPath, cacheDirPerms); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &DiskStore{dir: cleanPath}, nil
}

// Dir returns the cache directory.
func (d *DiskStore) Dir() string { return d.dir }

func (d *DiskStore) path(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(hash[:])+entrySuffix)
}

// Read loads the entry for key. Missing or unreadable files are a miss.
func (d *DiskStore) Read(key string) (Entry, bool) {
	path := d.path(key)
	e, err := readEntry(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("Failed to read disk cache file", "component", "cache", "error", err, "path", path)
		}
		return Entry{}, false
	}
	if e.Key != key {
		slog.Debug("Disk cache key mismatch", "component", "cache", "key", key, "stored", e.Key)
		return Entry{}, false
	}
	return e, true
}

func readEntry(path string) (Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Debug("Failed to close disk cache file", "component", "cache", "error", err, "path", path)
		}
	}()

	var e Entry
	if err := json.NewDecoder(file).Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return e, nil
}

// Write stores e atomically: the entry is written to a temporary file in the
// same directory and renamed into place, so readers never see a partial file.
func (d *DiskStore) Write(key string, e Entry) error {
	e.Key = key
	path := d.path(key)

	file, err := os.CreateTemp(d.dir, filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	tmpPath := file.Name()

	if err := json.NewEncoder(file).Encode(e); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encoding cache data: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming cache file: %w", err)
	}

	slog.Debug("Disk cache write successful", "component", "cache", "key", key, "file", path)
	return nil
}

// List returns every readable entry. Corrupt files are removed.
func (d *DiskStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache directory: %w", err)
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entrySuffix) {
			continue
		}
		path := filepath.Join(d.dir, de.Name())
		e, err := readEntry(path)
		if err != nil {
			slog.Debug("Removing unreadable cache file", "component", "cache", "path", path, "error", err)
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Debug("Failed to remove cache file", "component", "cache", "path", path, "error", err)
			}
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Remove deletes the entry for key.
func (d *DiskStore) Remove(key string) error {
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// RemoveAll deletes every cache file in the directory. Files the cache did
// not create are left alone.
func (d *DiskStore) RemoveAll() error {
	dirEntries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache directory: %w", err)
	}
	var errs []error
	removed := 0
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !(strings.HasSuffix(name, entrySuffix) || strings.HasSuffix(name, tmpSuffix)) {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	slog.Info("Cleared disk cache", "component", "cache", "removed", removed, "dir", d.dir)
	return errors.Join(errs...)
}
