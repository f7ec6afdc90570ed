package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/BaSui01/agentchorus/types"
	"go.uber.org/zap"
)

// JSONCache 是 CachedStore 依赖的缓存能力，由 internal/cache.Manager 实现。
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const recentDocumentsKey = "documents:recent:"

// CachedStore 为 RecentDocuments 加一层读缓存，SaveDocuments 后失效。
// 其他进程的写入由 TTL 兜底。
type CachedStore struct {
	Store
	cache JSONCache
	ttl   time.Duration
	// filled 记录本进程回填过的 limit，失效时一并删除
	filled sync.Map
	logger *zap.Logger
}

// NewCachedStore 包装 inner。ttl 为 0 时使用缓存的默认过期时间。
func NewCachedStore(inner Store, cache JSONCache, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		Store:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "cached_store")),
	}
}

// RecentDocuments 先读缓存，未命中或缓存出错时回源并回填。
func (s *CachedStore) RecentDocuments(ctx context.Context, limit int) ([]types.Document, error) {
	key := recentDocumentsKey + strconv.Itoa(limit)

	var docs []types.Document
	err := s.cache.GetJSON(ctx, key, &docs)
	if err == nil {
		return docs, nil
	}

	docs, err = s.Store.RecentDocuments(ctx, limit)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, key, docs, s.ttl); err != nil {
		s.logger.Warn("cache fill failed", zap.String("key", key), zap.Error(err))
	} else {
		s.filled.Store(limit, struct{}{})
	}
	return docs, nil
}

// SaveDocuments 写入后使最近文档缓存失效
func (s *CachedStore) SaveDocuments(ctx context.Context, docs []*types.Document) error {
	if err := s.Store.SaveDocuments(ctx, docs); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context) {
	var keys []string
	s.filled.Range(func(k, _ any) bool {
		keys = append(keys, recentDocumentsKey+strconv.Itoa(k.(int)))
		return true
	})
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Error(err))
	}
}
