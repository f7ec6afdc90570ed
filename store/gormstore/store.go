// Package gormstore 是 store.Store 的 GORM 实现，支持 postgres、mysql 与 sqlite。
// 表结构由 internal/migration 管理；AutoMigrate 仅用于开发与测试。
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentchorus/internal/database"
	"github.com/BaSui01/agentchorus/internal/metrics"
	"github.com/BaSui01/agentchorus/store"
	"github.com/BaSui01/agentchorus/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store 基于连接池的 GORM 存储
type Store struct {
	pool    *database.PoolManager
	name    string
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	closed  atomic.Bool
}

// Option 配置 Store
type Option func(*Store)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics 设置查询耗时指标
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// WithName 设置指标中的数据库标签
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

// New 创建 Store。Close 会关闭连接池。
func New(pool *database.PoolManager, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, errors.New("gormstore: pool is required")
	}
	s := &Store{
		pool:   pool,
		name:   "sql",
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "gormstore"))
	return s, nil
}

// AutoMigrate 按模型建表
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.pool.DB().WithContext(ctx).AutoMigrate(&turnRecord{}, &documentRecord{}, &projectRecord{})
}

// txRetries 死锁、序列化失败等可重试错误的事务重试次数
const txRetries = 3

// db 返回带 ctx 的会话并记录耗时
func (s *Store) db(ctx context.Context, op string) (*gorm.DB, func(), error) {
	if s.closed.Load() {
		return nil, nil, store.ErrStoreClosed
	}
	start := time.Now()
	done := func() { s.metrics.RecordDBQuery(s.name, op, time.Since(start)) }
	return s.pool.DB().WithContext(ctx), done, nil
}

// transaction 在可重试事务中执行 fn 并记录耗时
func (s *Store) transaction(ctx context.Context, op string, fn database.TransactionFunc) error {
	if s.closed.Load() {
		return store.ErrStoreClosed
	}
	start := time.Now()
	defer func() { s.metrics.RecordDBQuery(s.name, op, time.Since(start)) }()
	return s.pool.WithTransactionRetry(ctx, txRetries, fn)
}

// =============================================================================
// 💬 对话日志
// =============================================================================

// AppendTurn 写入一条轮次
func (s *Store) AppendTurn(ctx context.Context, role types.Role, content, providerID string) (int64, error) {
	if !role.Valid() {
		return 0, store.ErrInvalidInput
	}
	db, done, err := s.db(ctx, "append_turn")
	if err != nil {
		return 0, err
	}
	defer done()

	rec := turnRecord{Role: string(role), Content: content, Provider: providerID, CreatedAt: s.now()}
	if err := db.Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("gormstore: append turn: %w", err)
	}
	return rec.ID, nil
}

// ListTurns 按时间顺序返回全部轮次
func (s *Store) ListTurns(ctx context.Context) ([]types.Turn, error) {
	db, done, err := s.db(ctx, "list_turns")
	if err != nil {
		return nil, err
	}
	defer done()

	var recs []turnRecord
	if err := db.Order("id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list turns: %w", err)
	}
	out := make([]types.Turn, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toTurn())
	}
	return out, nil
}

// RecentTurns 返回最新的 user/assistant 轮次，最新在前
func (s *Store) RecentTurns(ctx context.Context, limit int) ([]types.Turn, error) {
	db, done, err := s.db(ctx, "recent_turns")
	if err != nil {
		return nil, err
	}
	defer done()

	q := db.Where("role IN ?", []string{string(types.RoleUser), string(types.RoleAssistant)}).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []turnRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("gormstore: recent turns: %w", err)
	}
	out := make([]types.Turn, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toTurn())
	}
	return out, nil
}

// =============================================================================
// 📄 文档
// =============================================================================

// SaveDocuments 在一个事务内写入文档与 file-manager 通知轮次
func (s *Store) SaveDocuments(ctx context.Context, docs []*types.Document) error {
	if err := store.CheckDocuments(docs); err != nil {
		return err
	}

	now := s.now()
	recs := make([]documentRecord, len(docs))
	for i, doc := range docs {
		recs[i] = documentRecord{
			Filename:     doc.Filename,
			OriginalName: doc.OriginalName,
			Content:      doc.Content,
			FileType:     doc.FileType,
			MimeType:     doc.MimeType,
			FileSize:     doc.FileSize,
			CreatedAt:    doc.CreatedAt,
		}
		if recs[i].Filename == "" {
			recs[i].Filename = recs[i].OriginalName
		}
		if recs[i].CreatedAt.IsZero() {
			recs[i].CreatedAt = now
		}
	}
	notice := turnRecord{Role: string(types.RoleSystem), Content: store.UploadNotice(docs), Provider: store.ProviderFileManager, CreatedAt: now}

	err := s.transaction(ctx, "save_documents", func(tx *gorm.DB) error {
		// 重试时重新分配主键
		for i := range recs {
			recs[i].ID = 0
		}
		notice.ID = 0
		if err := tx.Create(&recs).Error; err != nil {
			return err
		}
		return tx.Create(&notice).Error
	})
	if err != nil {
		return fmt.Errorf("gormstore: save documents: %w", err)
	}
	for i, doc := range docs {
		doc.ID, doc.CreatedAt = recs[i].ID, recs[i].CreatedAt
	}
	return nil
}

// ListDocuments 返回文档元数据，最新在前
func (s *Store) ListDocuments(ctx context.Context) ([]types.Document, error) {
	return s.documents(ctx, "list_documents", 0, false)
}

// RecentDocuments 返回含正文的最新 limit 个文档
func (s *Store) RecentDocuments(ctx context.Context, limit int) ([]types.Document, error) {
	return s.documents(ctx, "recent_documents", limit, true)
}

func (s *Store) documents(ctx context.Context, op string, limit int, withContent bool) ([]types.Document, error) {
	db, done, err := s.db(ctx, op)
	if err != nil {
		return nil, err
	}
	defer done()

	q := db.Order("id DESC")
	if !withContent {
		q = q.Omit("content")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []documentRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("gormstore: %s: %w", op, err)
	}
	out := make([]types.Document, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDocument())
	}
	return out, nil
}

// =============================================================================
// 📋 项目
// =============================================================================

// CreateProject 在一个事务内写入项目与 project-manager 简报轮次
func (s *Store) CreateProject(ctx context.Context, p *types.Project) (int64, error) {
	if p == nil || p.Name == "" {
		return 0, store.ErrInvalidInput
	}

	now := s.now()
	rec := projectRecord{
		Name:         p.Name,
		Description:  p.Description,
		Requirements: p.Requirements,
		Status:       p.Status,
		CreatedAt:    p.CreatedAt,
	}
	if rec.Status == "" {
		rec.Status = "active"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	brief := turnRecord{Role: string(types.RoleSystem), Content: store.ProjectBrief(p), Provider: store.ProviderProjectManager, CreatedAt: now}

	err := s.transaction(ctx, "create_project", func(tx *gorm.DB) error {
		rec.ID, brief.ID = 0, 0
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return tx.Create(&brief).Error
	})
	if err != nil {
		return 0, fmt.Errorf("gormstore: create project: %w", err)
	}
	p.ID, p.Status, p.CreatedAt = rec.ID, rec.Status, rec.CreatedAt
	return rec.ID, nil
}

// ListProjects 最新在前
func (s *Store) ListProjects(ctx context.Context) ([]types.Project, error) {
	db, done, err := s.db(ctx, "list_projects")
	if err != nil {
		return nil, err
	}
	defer done()

	var recs []projectRecord
	if err := db.Order("id DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list projects: %w", err)
	}
	out := make([]types.Project, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toProject())
	}
	return out, nil
}

// =============================================================================
// 🔧 生命周期
// =============================================================================

// Ping 检查连接
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrStoreClosed
	}
	return s.pool.Ping(ctx)
}

// Close 关闭连接池，可重复调用
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pool.Close()
}

var _ store.Store = (*Store)(nil)
