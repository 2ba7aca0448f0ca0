// Package artifacts stores rendered slides, thumbnails and result documents.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
)

// Store uploads and downloads objects addressed by bucket and key.
type Store interface {
	// Upload copies filePath to bucket/dest and returns a URL for it.
	Upload(ctx context.Context, filePath, bucket, dest string) (string, error)
	// Download copies bucket/src to destPath and returns destPath.
	Download(ctx context.Context, bucket, src, destPath string) (string, error)
}

// LocalStore keeps objects under a directory, one subdirectory per bucket.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates the root directory. With a non-empty baseURL the
// returned URLs are baseURL/bucket/key, otherwise file:// URLs.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, domain.IOError("failed to create artifacts directory", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, domain.IOError("failed to resolve artifacts directory", err)
	}
	return &LocalStore{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload implements Store.
func (s *LocalStore) Upload(ctx context.Context, filePath, bucket, dest string) (string, error) {
	target, err := s.objectPath(bucket, dest)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", domain.UploadError("failed to create object directory", err)
	}
	if err := copyFile(filePath, target); err != nil {
		return "", domain.UploadError(fmt.Sprintf("failed to store %s/%s", bucket, dest), err)
	}

	if s.baseURL != "" {
		return s.baseURL + "/" + url.PathEscape(bucket) + "/" + escapeKey(dest), nil
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(target)}).String(), nil
}

// Download implements Store.
func (s *LocalStore) Download(ctx context.Context, bucket, src, destPath string) (string, error) {
	source, err := s.objectPath(bucket, src)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(source); os.IsNotExist(err) {
		return "", fmt.Errorf("%s/%s: %w", bucket, src, domain.ErrNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", domain.IOError("failed to create download directory", err)
	}
	if err := copyFile(source, destPath); err != nil {
		return "", domain.IOError(fmt.Sprintf("failed to read %s/%s", bucket, src), err)
	}
	return destPath, nil
}

func (s *LocalStore) objectPath(bucket, key string) (string, error) {
	clean := path.Clean("/" + key)
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == ".." || clean == "/" {
		return "", domain.ValidationError(fmt.Sprintf("invalid object address %q/%q", bucket, key), nil)
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(clean[1:])), nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
