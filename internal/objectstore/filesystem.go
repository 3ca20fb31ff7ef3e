package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FilesystemStore stores objects as files on disk. "Presigned" URLs point at
// the server's /files/ route, which serves the same directory; there is no
// expiry enforcement in development.
type FilesystemStore struct {
	dir     string
	baseURL string
	log     *slog.Logger
}

// NewFilesystemStore creates a filesystem-backed object store rooted at dir.
// baseURL is the server's external URL, used to compose download links.
func NewFilesystemStore(dir, baseURL string, log *slog.Logger) (*FilesystemStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create object directory: %w", err)
	}
	return &FilesystemStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log,
	}, nil
}

// Dir returns the root directory, for wiring the /files/ file server.
func (s *FilesystemStore) Dir() string {
	return s.dir
}

func (s *FilesystemStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("empty object key")
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *FilesystemStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create object file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close object file: %w", err)
	}

	s.log.Debug("object stored", "key", key, "path", path)
	return nil
}

func (s *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

func (s *FilesystemStore) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	if _, err := s.path(key); err != nil {
		return "", err
	}
	escaped := url.PathEscape(key)
	// PathEscape encodes "/" too; keep key structure readable.
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	return s.baseURL + "/files/" + escaped, nil
}

func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
