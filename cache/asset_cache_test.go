package mycache

import (
	"testing"
	"time"
)

func TestAssetCacheRoundTrip(t *testing.T) {
	c, err := NewAssetCache(1<<20, time.Minute)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	c.Set("https://cdn/map.tmj", []byte(`{"width":20}`))
	got, ok := c.Get("https://cdn/map.tmj")
	if !ok || string(got) != `{"width":20}` {
		t.Fatalf("cache miss after set: %q %v", got, ok)
	}

	c.Del("https://cdn/map.tmj")
	if _, ok := c.Get("https://cdn/map.tmj"); ok {
		t.Fatalf("entry survived Del")
	}
}

func TestNilAssetCacheIsSafe(t *testing.T) {
	var c *AssetCache
	c.Set("k", []byte("v"))
	if _, ok := c.Get("k"); ok {
		t.Fatalf("nil cache reported a hit")
	}
}
