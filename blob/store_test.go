package blob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	mycache "hamlet/api/cache"
	"hamlet/api/config"
)

func TestFetchHTTPUsesCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/missing.tmj" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"width":20}`))
	}))
	defer srv.Close()

	cache, err := mycache.NewAssetCache(1<<20, time.Minute)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	s, err := NewStore(config.BlobConfig{BaseURL: srv.URL + "/maps/"}, cache)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	for i := 0; i < 2; i++ {
		data, err := s.Fetch(context.Background(), "happy.tmj")
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if string(data) != `{"width":20}` {
			t.Fatalf("unexpected body %q", data)
		}
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("second fetch should be served from cache, server hits=%d", hits)
	}

	_, err = s.Fetch(context.Background(), srv.URL+"/missing.tmj")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Fatalf("want 404 StatusError, got %v", err)
	}
}

func TestFetchLocalFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "v.tmj"), []byte("map"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(config.BlobConfig{LocalRoot: dir}, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	data, err := s.Fetch(context.Background(), "file://v.tmj")
	if err != nil || string(data) != "map" {
		t.Fatalf("fetch local: %q %v", data, err)
	}
	if _, err := s.Fetch(context.Background(), "nope.tmj"); err == nil {
		t.Fatalf("missing file should fail")
	}
}

func TestResolve(t *testing.T) {
	cases := []struct{ base, ref, want string }{
		{"https://cdn.example/maps/happy.tmj", "tiles/a.tsj", "https://cdn.example/maps/tiles/a.tsj"},
		{"https://cdn.example/maps/happy.tmj", "../img/a.png", "https://cdn.example/img/a.png"},
		{"https://cdn.example/maps/happy.tmj", "/abs/a.png", "https://cdn.example/abs/a.png"},
		{"maps/happy.tmj", "tiles/a.tsj", "maps/tiles/a.tsj"},
		{"maps/happy.tmj", "https://other/x.png", "https://other/x.png"},
		{"", "a.png", "a.png"},
	}
	for _, c := range cases {
		if got := Resolve(c.base, c.ref); got != c.want {
			t.Errorf("Resolve(%q,%q) = %q, want %q", c.base, c.ref, got, c.want)
		}
	}
	if got := ResolveDir("https://cdn.example/tiles", "a.png"); got != "https://cdn.example/tiles/a.png" {
		t.Errorf("ResolveDir = %q", got)
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"width":20,"height":20}`))
	}))
	defer srv.Close()

	s, err := NewStore(config.BlobConfig{}, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	s.maxSize = 8
	if _, err := s.Fetch(context.Background(), srv.URL+"/big.tmj"); !errors.Is(err, ErrBlobTooLarge) {
		t.Fatalf("want ErrBlobTooLarge, got %v", err)
	}
	s.maxSize = 64
	if data, err := s.Fetch(context.Background(), srv.URL+"/big.tmj"); err != nil || len(data) != 24 {
		t.Fatalf("body at the limit: %q %v", data, err)
	}
}

func TestFetchFileStaysUnderRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "maps")
	if err := os.MkdirAll(filepath.Join(root, "tiles"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "tiles", "a.tsj"), []byte("tileset"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(config.BlobConfig{LocalRoot: root}, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	for _, ref := range []string{"../secret.txt", "tiles/../../secret.txt", "file://../secret.txt"} {
		if _, err := s.Fetch(context.Background(), ref); !errors.Is(err, ErrOutsideRoot) {
			t.Fatalf("%s: want ErrOutsideRoot, got %v", ref, err)
		}
	}
	if data, err := s.Fetch(context.Background(), "tiles/x/../a.tsj"); err != nil || string(data) != "tileset" {
		t.Fatalf("in-root reference: %q %v", data, err)
	}
	if data, err := s.Fetch(context.Background(), "/tiles/a.tsj"); err != nil || string(data) != "tileset" {
		t.Fatalf("absolute path under root: %q %v", data, err)
	}
}
