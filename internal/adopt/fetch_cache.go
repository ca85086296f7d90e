package adopt

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Fetcher 纳管配置获取端（Mist API 客户端实现）
type Fetcher interface {
	FetchAdoptionConfig(ctx context.Context, orgID, siteID string) (string, error)
}

// FetchCache 按 FetchKey 去重与缓存纳管配置。
// 同一键并发请求时仅触发一次底层 API 调用；成功结果在本次运行内缓存，
// 失败不缓存——后续请求会重新发起调用（重试预算由 API 客户端自身控制）。
type FetchCache struct {
	fetcher Fetcher
	group   singleflight.Group

	mutex   sync.RWMutex
	configs map[FetchKey]string
}

// NewFetchCache 创建配置获取缓存
func NewFetchCache(fetcher Fetcher) *FetchCache {
	return &FetchCache{
		fetcher: fetcher,
		configs: make(map[FetchKey]string),
	}
}

// Get 返回键对应的原始纳管配置，必要时发起一次 API 调用
func (c *FetchCache) Get(ctx context.Context, key FetchKey) (string, error) {
	c.mutex.RLock()
	cached, ok := c.configs[key]
	c.mutex.RUnlock()
	if ok {
		return cached, nil
	}

	// singleflight 合并同键并发请求；Do 返回后键即被遗忘，
	// 因此失败的获取不会被粘住，下一个请求方会重新触发调用
	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		raw, err := c.fetcher.FetchAdoptionConfig(ctx, key.OrgID, key.SiteID)
		if err != nil {
			return nil, err
		}
		c.mutex.Lock()
		c.configs[key] = raw
		c.mutex.Unlock()
		return raw, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
