package mycache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const defaultAssetTTL = 30 * time.Minute

// AssetCache 按 URL 缓存已拉取的地图文档、tileset 和图片
type AssetCache struct {
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration
}

// NewAssetCache 创建缓存，maxCost 为字节上限
func NewAssetCache(maxCost int64, ttl time.Duration) (*AssetCache, error) {
	if maxCost <= 0 {
		maxCost = 256 << 20
	}
	if ttl <= 0 {
		ttl = defaultAssetTTL
	}
	cache, err := ristretto.NewCache[string, []byte](&ristretto.Config[string, []byte]{
		NumCounters: 100000,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &AssetCache{cache: cache, ttl: ttl}, nil
}

// Get 从缓存读取，ok 表示命中
func (c *AssetCache) Get(url string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.cache.Get(url)
}

// Set 写入缓存，cost 为数据长度；Wait 保证下一次 Get 可见
func (c *AssetCache) Set(url string, data []byte) {
	if c == nil || len(data) == 0 {
		return
	}
	c.cache.SetWithTTL(url, data, int64(len(data)), c.ttl)
	c.cache.Wait()
}

func (c *AssetCache) Del(url string) {
	if c == nil {
		return
	}
	c.cache.Del(url)
}

func (c *AssetCache) Close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
