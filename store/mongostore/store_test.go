package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/BaSui01/agentchorus/store"
	"github.com/BaSui01/agentchorus/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap/zaptest"
)

func TestDocumentRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := types.Document{OriginalName: "spec.txt", Content: "hello", FileType: "txt", FileSize: 5, CreatedAt: now}

	doc := documentToDoc(in)
	assert.Equal(t, "spec.txt", doc.Filename)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var back documentDoc
	require.NoError(t, bson.Unmarshal(raw, &back))

	out := back.toDocument()
	assert.Equal(t, "hello", out.Content)
	assert.True(t, now.Equal(out.CreatedAt))
}

func TestProjectToDoc_DefaultStatus(t *testing.T) {
	assert.Equal(t, "active", projectToDoc(types.Project{Name: "p"}).Status)
	assert.Equal(t, "done", projectToDoc(types.Project{Name: "p", Status: "done"}).Status)
}

func TestConversationalFilter(t *testing.T) {
	raw, err := bson.Marshal(conversationalFilter())
	require.NoError(t, err)

	var filter struct {
		Role struct {
			In []string `bson:"$in"`
		} `bson:"role"`
	}
	require.NoError(t, bson.Unmarshal(raw, &filter))
	assert.Equal(t, []string{"user", "assistant"}, filter.Role.In)
}

func TestOpen_RequiresURI(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}

// 需要真实 MongoDB：AGENTCHORUS_TEST_MONGO_URI=mongodb://localhost:27017
func TestStore_Integration(t *testing.T) {
	uri := os.Getenv("AGENTCHORUS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("AGENTCHORUS_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	dbName := fmt.Sprintf("agentchorus_test_%d", time.Now().UnixNano())

	s, err := Open(ctx, Config{URI: uri, Database: dbName, Timeout: 5 * time.Second}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer func() {
		_ = s.db.Drop(ctx)
		s.Close()
	}()

	_, err = s.AppendTurn(ctx, types.RoleUser, "topic", store.ProviderInfiniteChat)
	require.NoError(t, err)
	_, err = s.AppendTurn(ctx, types.RoleSystem, "brief", store.ProviderProjectManager)
	require.NoError(t, err)
	id, err := s.AppendTurn(ctx, types.RoleAssistant, "reply", "mistral:7b")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	recent, err := s.RecentTurns(ctx, 8)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "reply", recent[0].Content)

	all, err := s.ListTurns(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.SaveDocuments(ctx, []*types.Document{{OriginalName: "a.md", Content: "body", FileType: "md"}}))
	listed, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].Content)

	docs, err := s.RecentDocuments(ctx, 2)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "body", docs[0].Content)

	p := &types.Project{Name: "chorus"}
	_, err = s.CreateProject(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "active", p.Status)

	all, err = s.ListTurns(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, store.ProviderFileManager, all[3].Provider)
	assert.Equal(t, store.ProviderProjectManager, all[4].Provider)

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(ctx), store.ErrStoreClosed)
}
