package store

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentchorus/types"
)

// MemoryStore 是 Store 的内存实现。适合开发和测试，数据在重启后丢失。
type MemoryStore struct {
	mu        sync.RWMutex
	turns     []types.Turn
	documents []types.Document
	projects  []types.Project
	closed    bool
	now       func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 检查存储是否可用
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// AppendTurn 追加一条轮次
func (s *MemoryStore) AppendTurn(ctx context.Context, role types.Role, content, providerID string) (int64, error) {
	if !role.Valid() {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return s.appendLocked(role, content, providerID), nil
}

// appendLocked 调用方必须持有写锁
func (s *MemoryStore) appendLocked(role types.Role, content, providerID string) int64 {
	id := int64(len(s.turns) + 1)
	s.turns = append(s.turns, types.Turn{
		ID:        id,
		Role:      role,
		Content:   content,
		Provider:  providerID,
		Timestamp: s.now(),
	})
	return id
}

// ListTurns 按时间顺序返回全部轮次
func (s *MemoryStore) ListTurns(ctx context.Context) ([]types.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return append([]types.Turn(nil), s.turns...), nil
}

// RecentTurns 返回最新的 user/assistant 轮次，最新在前
func (s *MemoryStore) RecentTurns(ctx context.Context, limit int) ([]types.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var out []types.Turn
	for i := len(s.turns) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		t := s.turns[i]
		if t.Role == types.RoleUser || t.Role == types.RoleAssistant {
			out = append(out, t)
		}
	}
	return out, nil
}

// SaveDocuments 在同一把锁内保存文档与通知轮次
func (s *MemoryStore) SaveDocuments(ctx context.Context, docs []*types.Document) error {
	if err := CheckDocuments(docs); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	now := s.now()
	for _, doc := range docs {
		d := *doc
		d.ID = int64(len(s.documents) + 1)
		if d.Filename == "" {
			d.Filename = d.OriginalName
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		s.documents = append(s.documents, d)
		doc.ID, doc.CreatedAt = d.ID, d.CreatedAt
	}
	s.appendLocked(types.RoleSystem, UploadNotice(docs), ProviderFileManager)
	return nil
}

// ListDocuments 返回文档元数据，最新在前
func (s *MemoryStore) ListDocuments(ctx context.Context) ([]types.Document, error) {
	docs, err := s.RecentDocuments(ctx, 0)
	if err != nil {
		return nil, err
	}
	return WithoutContent(docs), nil
}

// RecentDocuments 返回最新的 limit 个文档；limit <= 0 表示全部
func (s *MemoryStore) RecentDocuments(ctx context.Context, limit int) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var out []types.Document
	for i := len(s.documents) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.documents[i])
	}
	return out, nil
}

// CreateProject 在同一把锁内保存项目与简报轮次
func (s *MemoryStore) CreateProject(ctx context.Context, p *types.Project) (int64, error) {
	if p == nil || p.Name == "" {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	cp := *p
	cp.ID = int64(len(s.projects) + 1)
	if cp.Status == "" {
		cp.Status = "active"
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.projects = append(s.projects, cp)
	s.appendLocked(types.RoleSystem, ProjectBrief(&cp), ProviderProjectManager)
	p.ID, p.Status, p.CreatedAt = cp.ID, cp.Status, cp.CreatedAt
	return cp.ID, nil
}

// ListProjects 最新在前
func (s *MemoryStore) ListProjects(ctx context.Context) ([]types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]types.Project, 0, len(s.projects))
	for i := len(s.projects) - 1; i >= 0; i-- {
		out = append(out, s.projects[i])
	}
	return out, nil
}
