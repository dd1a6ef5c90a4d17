package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	mycache "hamlet/api/cache"
	"hamlet/api/config"
)

const maxBlobSize = 64 << 20

var (
	ErrBlobTooLarge = errors.New("blob too large")
	ErrOutsideRoot  = errors.New("path escapes blob local root")
)

// Fetcher is fetch-by-URL access to map documents, tilesets and images.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
}

// Store fetches http(s) URLs with net/http and file:// or bare paths. With LocalRoot set, local
// paths resolve under it and may not leave it.
// Relative references are resolved against BaseURL first.
type Store struct {
	baseURL    *url.URL
	localRoot  string
	httpClient *http.Client
	cache      *mycache.AssetCache
	maxSize    int64
}

func NewStore(cfg config.BlobConfig, cache *mycache.AssetCache) (*Store, error) {
	s := &Store{
		localRoot:  cfg.LocalRoot,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		maxSize:    maxBlobSize,
	}
	if s.httpClient.Timeout <= 0 {
		s.httpClient.Timeout = 15 * time.Second
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse blob base url: %w", err)
		}
		s.baseURL = u
	}
	return s, nil
}

func (s *Store) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target := s.absolute(rawURL)
	if data, ok := s.cache.Get(target); ok {
		return data, nil
	}

	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		data, err = s.fetchHTTP(ctx, target)
	default:
		data, err = s.fetchFile(target)
	}
	if err != nil {
		return nil, err
	}
	s.cache.Set(target, data)
	return data, nil
}

func (s *Store) absolute(rawURL string) string {
	if s.baseURL == nil || strings.Contains(rawURL, "://") {
		return rawURL
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return s.baseURL.ResolveReference(ref).String()
}

func (s *Store) fetchHTTP(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: target, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("fetch %s: %w (over %d bytes)", target, ErrBlobTooLarge, s.maxSize)
	}
	return data, nil
}

func (s *Store) fetchFile(target string) ([]byte, error) {
	p := strings.TrimPrefix(target, "file://")
	if s.localRoot != "" {
		// every local path, absolute or not, lives under the root
		root := filepath.Clean(s.localRoot)
		p = filepath.Join(root, filepath.FromSlash(p))
		if rel, err := filepath.Rel(root, p); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("read %s: %w", target, ErrOutsideRoot)
		}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// Resolve joins ref against the document it was found in. Absolute refs are returned as-is.
func Resolve(base, ref string) string {
	if ref == "" || base == "" || strings.Contains(ref, "://") {
		return ref
	}
	if bu, err := url.Parse(base); err == nil && bu.Scheme != "" {
		rr, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return bu.ResolveReference(rr).String()
	}
	if strings.HasPrefix(ref, "/") {
		return ref
	}
	return path.Join(path.Dir(base), ref)
}

// ResolveDir joins ref under a base directory (tileset base paths end without a file name).
func ResolveDir(dir, ref string) string {
	if dir == "" {
		return ref
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return Resolve(dir+"_", ref)
}
