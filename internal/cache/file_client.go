package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileClient stores one file per key under a directory. Writes go to a temp
// file in the same directory followed by a rename, so readers never see a
// partial value. TTL is not tracked on disk; ResultStore enforces expiry.
type FileClient struct {
	dir string
}

// NewFileClient creates the cache directory if needed.
func NewFileClient(dir string) (*FileClient, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileClient{dir: dir}, nil
}

// Dir returns the backing directory.
func (c *FileClient) Dir() string {
	return c.dir
}

func (c *FileClient) path(key string) string {
	return filepath.Join(c.dir, fileName(key)+".json")
}

// maxStem bounds the encoded part of a file name. Longer keys are cut and
// suffixed with a hash of the full key.
const maxStem = 160

// fileName maps a key onto a file name. Letters, digits and '-' are kept;
// every other byte becomes "_xx" (hex), so distinct keys never share a file
// and the encoding of a prefix is a prefix of the encoding.
func fileName(key string) string {
	stem := escapeKey(key)
	if len(stem) <= maxStem {
		return stem
	}
	sum := sha256.Sum256([]byte(key))
	return stem[:maxStem] + "~" + hex.EncodeToString(sum[:16])
}

func escapeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		switch c := key[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

// Get reads the value for key.
func (c *FileClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	return data, nil
}

// Set writes value atomically.
func (c *FileClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Delete removes the value for key. Missing keys are not an error.
func (c *FileClient) Delete(ctx context.Context, key string) error {
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// DeleteByPrefix removes every entry whose file name starts with prefix.
// Leftover temp files are swept as well.
func (c *FileClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("list cache dir: %w", err)
	}

	var errs []error
	want := escapeKey(prefix)
	if len(want) > maxStem {
		want = want[:maxStem]
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, want) && !strings.HasPrefix(name, ".tmp-") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op for the file cache.
func (c *FileClient) Close() error {
	return nil
}
