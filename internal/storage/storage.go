// Package storage persists generation artifacts under a single root
// directory. Keys are slash-separated relative paths; every write lands via
// a temp file plus rename so readers never observe partial artifacts.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"montage/internal/logging"
	"montage/internal/retry"
	"montage/internal/services"
	"montage/internal/textutil"
)

const (
	dirMode  = 0o755
	fileMode = 0o644

	// maxErrorBody bounds how much of a failed download response is kept
	// for the error message.
	maxErrorBody = 4096
)

// FS stores artifacts on the local filesystem.
type FS struct {
	root   string
	client *http.Client
	logger *slog.Logger
	retry  retry.Policy
}

// Option customizes an FS store.
type Option func(*FS)

// WithHTTPClient overrides the download client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *FS) {
		if client != nil {
			s.client = client
		}
	}
}

// WithLogger attaches a logger for download diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FS) {
		if logger != nil {
			s.logger = logging.NewComponentLogger(logger, "artifact-store")
		}
	}
}

// WithRetryPolicy sets the policy applied to downloads.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(s *FS) {
		s.retry = policy
	}
}

// NewFS creates the root directory if needed and returns a store rooted
// there.
func NewFS(root string, opts ...Option) (*FS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "new", "artifact root is required", nil)
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "new",
			fmt.Sprintf("create artifact root %s", root), err)
	}
	store := &FS{
		root:   root,
		client: &http.Client{Timeout: 5 * time.Minute},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Root returns the store's base directory.
func (s *FS) Root() string {
	return s.root
}

// Path resolves a key to its absolute location without touching the disk.
func (s *FS) Path(key string) (string, error) {
	return s.resolve(key)
}

// Put writes data at key atomically and returns the resulting path.
func (s *FS) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return "", services.Wrap(services.ErrTransient, "storage", "put",
			fmt.Sprintf("create directory for %s", key), err)
	}
	if err := writeFileAtomic(target, data, fileMode); err != nil {
		return "", services.Wrap(services.ErrTransient, "storage", "put",
			fmt.Sprintf("write %s", key), err)
	}
	return target, nil
}

// Get reads the artifact stored at key.
func (s *FS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, services.Wrap(services.ErrNotFound, "storage", "get",
				fmt.Sprintf("artifact %s", key), nil)
		}
		return nil, services.Wrap(services.ErrTransient, "storage", "get",
			fmt.Sprintf("read %s", key), err)
	}
	return data, nil
}

// Exists reports whether key holds an artifact.
func (s *FS) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, services.Wrap(services.ErrTransient, "storage", "exists",
			fmt.Sprintf("stat %s", key), err)
	}
	return true, nil
}

// Fetch downloads url into the store at key and returns the local path.
// Transient download failures are retried under the store's policy.
func (s *FS) Fetch(ctx context.Context, url, key string) (string, error) {
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(url) == "" {
		return "", services.Wrap(services.ErrValidation, "storage", "fetch", "url is required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return "", services.Wrap(services.ErrTransient, "storage", "fetch",
			fmt.Sprintf("create directory for %s", key), err)
	}
	written, err := retry.Do(ctx, s.retry, "fetch artifact", func(ctx context.Context) (int64, error) {
		return s.download(ctx, url, target)
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("artifact downloaded",
		logging.String("key", key),
		logging.Int64("bytes", written))
	return target, nil
}

func (s *FS) download(ctx context.Context, url, target string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrValidation, "storage", "fetch",
			fmt.Sprintf("build request for %s", url), err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, retry.Transient("storage", "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		message := fmt.Sprintf("download failed (%s): %s", resp.Status, strings.TrimSpace(string(body)))
		return 0, services.Wrap(classifyStatus(resp.StatusCode), "storage", "fetch", message, nil)
	}

	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".fetch-*.tmp")
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "storage", "fetch", "create temp file", err)
	}
	tmpName := tmp.Name()
	written, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, retry.Transient("storage", "fetch", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, services.Wrap(services.ErrTransient, "storage", "fetch", "chmod temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, services.Wrap(services.ErrTransient, "storage", "fetch", "close temp file", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return 0, services.Wrap(services.ErrTransient, "storage", "fetch", "rename temp file", err)
	}
	return written, nil
}

// classifyStatus buckets a download status code into the retry taxonomy.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return services.ErrAuth
	case code == http.StatusNotFound:
		return services.ErrNotFound
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return services.ErrTransient
	default:
		return services.ErrValidation
	}
}

// resolve validates a key and maps it inside the root. Each segment is
// sanitized; anything that would escape the root is rejected.
func (s *FS) resolve(key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", services.Wrap(services.ErrValidation, "storage", "resolve", "key is required", nil)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", services.Wrap(services.ErrValidation, "storage", "resolve",
			fmt.Sprintf("key %q escapes the artifact root", key), nil)
	}
	segments := strings.Split(clean, "/")
	for i, segment := range segments {
		sanitized := textutil.SanitizeFileName(segment)
		if sanitized == "" || sanitized == "." || sanitized == ".." {
			return "", services.Wrap(services.ErrValidation, "storage", "resolve",
				fmt.Sprintf("key %q has an invalid segment", key), nil)
		}
		segments[i] = sanitized
	}
	return filepath.Join(s.root, filepath.Join(segments...)), nil
}

func writeFileAtomic(target string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".put-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
