package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentchorus/internal/cache"
	"github.com/BaSui01/agentchorus/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStore_Turns(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.AppendTurn(ctx, types.RoleUser, "hello", ProviderUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	_, err = s.AppendTurn(ctx, types.RoleSystem, "brief", ProviderProjectManager)
	require.NoError(t, err)
	_, err = s.AppendTurn(ctx, types.RoleAssistant, "hi", "mistral:7b")
	require.NoError(t, err)

	_, err = s.AppendTurn(ctx, "robot", "x", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	all, err := s.ListTurns(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "hello", all[0].Content)

	recent, err := s.RecentTurns(ctx, 8)
	require.NoError(t, err)
	require.Len(t, recent, 2, "system turns excluded")
	assert.Equal(t, "hi", recent[0].Content)
	assert.Equal(t, "hello", Chronological(recent)[0].Content)
}

func TestMemoryStore_DocumentsAndProjects(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		doc := &types.Document{OriginalName: fmt.Sprintf("doc%d.md", i), Content: "body", FileType: "markdown"}
		require.NoError(t, s.SaveDocuments(ctx, []*types.Document{doc}))
		assert.Equal(t, int64(i+1), doc.ID)
	}
	assert.ErrorIs(t, s.SaveDocuments(ctx, []*types.Document{{}}), ErrInvalidInput)
	assert.ErrorIs(t, s.SaveDocuments(ctx, nil), ErrInvalidInput)

	recent, err := s.RecentDocuments(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "doc2.md", recent[0].OriginalName)
	assert.Equal(t, "body", recent[0].Content)

	list, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Empty(t, list[0].Content)

	p := &types.Project{Name: "todo", Description: "d", Requirements: "r"}
	id, err := s.CreateProject(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "active", p.Status)

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "todo", projects[0].Name)

	turns, err := s.ListTurns(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 4, "one notice per batch plus the project brief")
	assert.Equal(t, ProviderFileManager, turns[0].Provider)
	assert.Equal(t, types.RoleSystem, turns[3].Role)
	assert.Equal(t, ProviderProjectManager, turns[3].Provider)
	assert.Equal(t, ProjectBrief(p), turns[3].Content)
}

func TestMemoryStore_SaveDocumentsBatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	docs := []*types.Document{
		{OriginalName: "a.go", Content: "package a", FileType: "go"},
		{OriginalName: "b.md", Content: "# b", FileType: "md"},
	}
	require.NoError(t, s.SaveDocuments(ctx, docs))
	assert.Equal(t, int64(1), docs[0].ID)
	assert.Equal(t, int64(2), docs[1].ID)
	assert.Equal(t, docs[0].CreatedAt, docs[1].CreatedAt)

	turns, err := s.ListTurns(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, UploadNotice(docs), turns[0].Content)

	// 批内任一文档无效时整批拒绝
	err = s.SaveDocuments(ctx, []*types.Document{{OriginalName: "c.txt"}, nil})
	assert.ErrorIs(t, err, ErrInvalidInput)
	list, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryStore_CreateProjectCancelledWritesNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateProject(ctx, &types.Project{Name: "late"})
	assert.ErrorIs(t, err, context.Canceled)

	projects, err := s.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projects)
	turns, err := s.ListTurns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	ctx := context.Background()

	assert.ErrorIs(t, s.Ping(ctx), ErrStoreClosed)
	_, err := s.AppendTurn(ctx, types.RoleUser, "x", ProviderUser)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.RecentTurns(ctx, 1)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendTurn(ctx, types.RoleAssistant, "reply", "p")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := s.ListTurns(ctx)
	require.NoError(t, err)
	require.Len(t, all, 20)
	for i, turn := range all {
		assert.Equal(t, int64(i+1), turn.ID)
	}
}

func TestUploadNotice(t *testing.T) {
	notice := UploadNotice([]*types.Document{{OriginalName: "a.go", FileType: "go"}, {OriginalName: "b.txt", FileType: "text"}})
	assert.Equal(t, "FILES UPLOADED: a.go (go), b.txt (text)\n\nFiles are now available for AI analysis. "+
		"Use /analyze to have all AIs examine these documents, or reference them in your conversations.", notice)
}

func TestProjectBrief(t *testing.T) {
	brief := ProjectBrief(&types.Project{Name: "Chat", Description: "A chat app", Requirements: "Go"})
	assert.Equal(t, "NEW PROJECT CREATED: Chat\n\nDescription: A chat app\n\nRequirements: Go\n\n"+
		"All AIs should collaborate on breaking this down into tasks and assigning responsibilities based on expertise.", brief)
}

// countingStore 统计回源次数
type countingStore struct {
	*MemoryStore
	recentCalls int
}

func (c *countingStore) RecentDocuments(ctx context.Context, limit int) ([]types.Document, error) {
	c.recentCalls++
	return c.MemoryStore.RecentDocuments(ctx, limit)
}

func TestCachedStore_RecentDocuments(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr(), KeyPrefix: "t:", DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	inner := &countingStore{MemoryStore: NewMemoryStore()}
	s := NewCachedStore(inner, mgr, 0, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.SaveDocuments(ctx, []*types.Document{{OriginalName: "a.md", Content: "A", FileType: "markdown"}}))

	docs, err := s.RecentDocuments(ctx, 2)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	docs, err = s.RecentDocuments(ctx, 2)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 1, inner.recentCalls, "second read served from cache")
	assert.True(t, mr.Exists("t:documents:recent:2"))

	require.NoError(t, s.SaveDocuments(ctx, []*types.Document{{OriginalName: "b.md", Content: "B", FileType: "markdown"}}))
	assert.False(t, mr.Exists("t:documents:recent:2"))

	docs, err = s.RecentDocuments(ctx, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b.md", docs[0].OriginalName)
	assert.Equal(t, 2, inner.recentCalls)
}

func TestCachedStore_CacheDownFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)

	inner := NewMemoryStore()
	require.NoError(t, inner.SaveDocuments(context.Background(), []*types.Document{{OriginalName: "a.md"}}))

	s := NewCachedStore(inner, mgr, time.Minute, nil)
	require.NoError(t, mgr.Close())

	docs, err := s.RecentDocuments(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
