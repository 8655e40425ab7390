// Package filestore persists one record per key as a file inside a
// node-exclusive directory. A record holds the raw value text and reads
// return its first line only.
package filestore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/errors"
	"github.com/devrev/ringkv/internal/storage/diskmanager"
)

// RecordSuffix is appended to the key to form the record file name
const RecordSuffix = ".kv"

// tempSuffix never ends a record file name, which always ends in RecordSuffix
const tempSuffix = RecordSuffix + ".tmp"

const tempPattern = "*" + tempSuffix

// Store is a directory of key records. It is not synchronized; callers
// serialize access.
type Store struct {
	dir    string
	disk   *diskmanager.DiskManager
	logger *zap.Logger
}

// Open creates dir if needed and returns a store rooted there. disk may be
// nil to skip free space checks.
func Open(dir string, disk *diskmanager.DiskManager, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	s := &Store{dir: dir, disk: disk, logger: logger}
	s.removeTempFiles()
	return s, nil
}

// Dir returns the directory holding the records
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, "/\\\x00") {
		return "", errors.InvalidKey(key, "key cannot be used as a record name")
	}
	return filepath.Join(s.dir, key+RecordSuffix), nil
}

// Exists reports whether a record for key is present
func (s *Store) Exists(key string) bool {
	p, err := s.path(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the first line of the record for key
func (s *Store) Read(key string) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.KeyNotFound(key)
		}
		return "", errors.StorageIO("read", key, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.StorageIO("read", key, err)
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// Write replaces the record for key. The new content is written to a
// temporary file and renamed into place.
func (s *Store) Write(key, value string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.disk.CheckBeforeWrite(uint64(len(value))); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return errors.StorageIO("write", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.StorageIO("write", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.StorageIO("write", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return errors.StorageIO("write", key, err)
	}
	return nil
}

// Delete removes the record for key and reports whether one existed
func (s *Store) Delete(key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.StorageIO("delete", key, err)
	}
	return true, nil
}

// ListKeys returns every stored key in lexical order of record name
func (s *Store) ListKeys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, RecordSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, RecordSuffix))
	}
	return keys, nil
}

// Clear removes every record. It keeps going past individual failures and
// returns them together.
func (s *Store) Clear() error {
	keys, err := s.ListKeys()
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, key := range keys {
		if _, err := s.Delete(key); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		s.logger.Error("Failed to clear some records",
			zap.String("dir", s.dir),
			zap.Int("failures", len(result.Errors)))
	}
	return result.ErrorOrNil()
}

// removeTempFiles drops leftovers of writes interrupted by a crash
func (s *Store) removeTempFiles() {
	matches, err := filepath.Glob(filepath.Join(s.dir, tempPattern))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			s.logger.Warn("Failed to remove temp record", zap.String("path", m), zap.Error(err))
		}
	}
}
