// Package mongostore 是 store.Store 的 MongoDB 实现。
// 每个集合使用 counters 集合分配单调递增的 int64 id，与 SQL 后端保持一致的顺序语义。
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentchorus/internal/metrics"
	"github.com/BaSui01/agentchorus/store"
	"github.com/BaSui01/agentchorus/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

const (
	collMessages  = "messages"
	collDocuments = "documents"
	collProjects  = "projects"
	collCounters  = "counters"
)

// Config 连接参数
type Config struct {
	URI      string
	Database string
	// Timeout 连接与单次操作的超时
	Timeout time.Duration
}

// Store MongoDB 存储
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
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

// Open 连接 MongoDB 并确认可达
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongostore: uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "agentchorus"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}

	s := &Store{
		client:  client,
		db:      client.Database(cfg.Database),
		timeout: cfg.Timeout,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "mongostore"), zap.String("database", cfg.Database))

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	if err := s.ensureIndexes(ctx); err != nil {
		s.logger.Warn("failed to ensure indexes", zap.Error(err))
	}
	s.logger.Info("mongo store connected")
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	for _, coll := range []string{collMessages, collDocuments} {
		_, err := s.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		})
		if err != nil {
			return err
		}
	}
	_, err := s.db.Collection(collMessages).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "role", Value: 1}, {Key: "_id", Value: -1}},
	})
	return err
}

// begin 检查关闭状态并返回耗时记录函数
func (s *Store) begin(op string) (func(), error) {
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}
	start := time.Now()
	return func() { s.metrics.RecordDBQuery("mongo", op, time.Since(start)) }, nil
}

// nextID 原子递增 counters 集合中的序号
func (s *Store) nextID(ctx context.Context, coll string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(collCounters).FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: coll}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("mongostore: next id for %s: %w", coll, err)
	}
	return counter.Seq, nil
}

// =============================================================================
// 💬 对话日志
// =============================================================================

// AppendTurn 写入一条轮次
func (s *Store) AppendTurn(ctx context.Context, role types.Role, content, providerID string) (int64, error) {
	if !role.Valid() {
		return 0, store.ErrInvalidInput
	}
	done, err := s.begin("append_turn")
	if err != nil {
		return 0, err
	}
	defer done()

	return s.insertTurn(ctx, role, content, providerID)
}

func (s *Store) insertTurn(ctx context.Context, role types.Role, content, providerID string) (int64, error) {
	id, err := s.nextID(ctx, collMessages)
	if err != nil {
		return 0, err
	}
	doc := turnDoc{ID: id, Role: string(role), Content: content, Provider: providerID, CreatedAt: s.now().UTC()}
	if _, err := s.db.Collection(collMessages).InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("mongostore: append turn: %w", err)
	}
	return id, nil
}

// undo 删除已写入的记录。请求 ctx 可能已取消，使用独立的超时。
func (s *Store) undo(ctx context.Context, coll string, ids []int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	_, err := s.db.Collection(coll).DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		s.logger.Error("rollback insert failed", zap.String("collection", coll), zap.Int64s("ids", ids), zap.Error(err))
	}
}

// ListTurns 按时间顺序返回全部轮次
func (s *Store) ListTurns(ctx context.Context) ([]types.Turn, error) {
	done, err := s.begin("list_turns")
	if err != nil {
		return nil, err
	}
	defer done()

	var docs []turnDoc
	if err := s.find(ctx, collMessages, bson.D{}, findOptions(1, 0, false), &docs); err != nil {
		return nil, fmt.Errorf("mongostore: list turns: %w", err)
	}
	return turnsFromDocs(docs), nil
}

// RecentTurns 返回最新的 user/assistant 轮次，最新在前
func (s *Store) RecentTurns(ctx context.Context, limit int) ([]types.Turn, error) {
	done, err := s.begin("recent_turns")
	if err != nil {
		return nil, err
	}
	defer done()

	var docs []turnDoc
	if err := s.find(ctx, collMessages, conversationalFilter(), findOptions(-1, limit, false), &docs); err != nil {
		return nil, fmt.Errorf("mongostore: recent turns: %w", err)
	}
	return turnsFromDocs(docs), nil
}

// =============================================================================
// 📄 文档
// =============================================================================

// SaveDocuments 写入文档与 file-manager 通知轮次。
// 单节点 mongod 不支持多文档事务，通知写入失败时删除本次插入的文档。
func (s *Store) SaveDocuments(ctx context.Context, docs []*types.Document) error {
	if err := store.CheckDocuments(docs); err != nil {
		return err
	}
	done, err := s.begin("save_documents")
	if err != nil {
		return err
	}
	defer done()

	now := s.now().UTC()
	ids := make([]int64, len(docs))
	batch := make([]any, len(docs))
	for i, doc := range docs {
		id, err := s.nextID(ctx, collDocuments)
		if err != nil {
			return err
		}
		d := documentToDoc(*doc)
		d.ID = id
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		ids[i], batch[i] = id, d
	}
	if _, err := s.db.Collection(collDocuments).InsertMany(ctx, batch); err != nil {
		s.undo(ctx, collDocuments, ids)
		return fmt.Errorf("mongostore: save documents: %w", err)
	}
	if _, err := s.insertTurn(ctx, types.RoleSystem, store.UploadNotice(docs), store.ProviderFileManager); err != nil {
		s.undo(ctx, collDocuments, ids)
		return err
	}
	for i, doc := range docs {
		doc.ID, doc.CreatedAt = ids[i], batch[i].(documentDoc).CreatedAt
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
	done, err := s.begin(op)
	if err != nil {
		return nil, err
	}
	defer done()

	var docs []documentDoc
	if err := s.find(ctx, collDocuments, bson.D{}, findOptions(-1, limit, !withContent), &docs); err != nil {
		return nil, fmt.Errorf("mongostore: %s: %w", op, err)
	}
	out := make([]types.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDocument())
	}
	return out, nil
}

// =============================================================================
// 📋 项目
// =============================================================================

// CreateProject 写入项目与 project-manager 简报轮次，简报写入失败时删除该项目。
func (s *Store) CreateProject(ctx context.Context, p *types.Project) (int64, error) {
	if p == nil || p.Name == "" {
		return 0, store.ErrInvalidInput
	}
	done, err := s.begin("create_project")
	if err != nil {
		return 0, err
	}
	defer done()

	id, err := s.nextID(ctx, collProjects)
	if err != nil {
		return 0, err
	}
	d := projectToDoc(*p)
	d.ID = id
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	if _, err := s.db.Collection(collProjects).InsertOne(ctx, d); err != nil {
		return 0, fmt.Errorf("mongostore: create project: %w", err)
	}
	if _, err := s.insertTurn(ctx, types.RoleSystem, store.ProjectBrief(p), store.ProviderProjectManager); err != nil {
		s.undo(ctx, collProjects, []int64{id})
		return 0, err
	}
	p.ID, p.Status, p.CreatedAt = id, d.Status, d.CreatedAt
	return id, nil
}

// ListProjects 最新在前
func (s *Store) ListProjects(ctx context.Context) ([]types.Project, error) {
	done, err := s.begin("list_projects")
	if err != nil {
		return nil, err
	}
	defer done()

	var docs []projectDoc
	if err := s.find(ctx, collProjects, bson.D{}, findOptions(-1, 0, false), &docs); err != nil {
		return nil, fmt.Errorf("mongostore: list projects: %w", err)
	}
	out := make([]types.Project, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toProject())
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
	return s.client.Ping(ctx, readpref.Primary())
}

// Close 断开连接，可重复调用
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) find(ctx context.Context, coll string, filter bson.D, opts *options.FindOptionsBuilder, out any) error {
	cur, err := s.db.Collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

var _ store.Store = (*Store)(nil)
