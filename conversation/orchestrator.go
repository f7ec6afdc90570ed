package conversation

import (
	"context"
	"time"

	"github.com/BaSui01/agentchorus/conversation/stimulus"
	"github.com/BaSui01/agentchorus/conversation/window"
	"github.com/BaSui01/agentchorus/internal/metrics"
	"github.com/BaSui01/agentchorus/llm"
	"github.com/BaSui01/agentchorus/llm/retry"
	"github.com/BaSui01/agentchorus/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/agentchorus/conversation"

// persistTimeout 单次写入的上限。写入不随请求 ctx 取消：已发送的回复必须落库。
const persistTimeout = 5 * time.Second

// DefaultTopic 流式会话未指定话题时使用
const DefaultTopic = "Welcome to our ongoing discussion! Feel free to talk about anything that interests you."

// Invoker 调用单个 Provider 并返回经过校验的回复
type Invoker interface {
	Invoke(ctx context.Context, providerID string, messages []types.Message) (string, error)
}

// Persistence 编排器使用的存储能力，store.Store 满足该接口。
type Persistence interface {
	AppendTurn(ctx context.Context, role types.Role, content, providerID string) (int64, error)
	RecentTurns(ctx context.Context, limit int) ([]types.Turn, error)
	RecentDocuments(ctx context.Context, limit int) ([]types.Document, error)
}

// Config 编排参数
type Config struct {
	// RoundDocuments 单轮模式附带的最近文档数
	RoundDocuments int
	// StreamDocuments 流式模式每次迭代附带的最近文档数
	StreamDocuments int
	// ContextPreload contextual 会话启动时预载的历史轮次数
	ContextPreload int
	// StimulusWindow 判定冷场时传入的最近历史条数
	StimulusWindow int
	// HistoryTrimAt 历史长度超过该值时裁剪到 HistoryKeep
	HistoryTrimAt int
	HistoryKeep   int

	MinDelay time.Duration
	MaxDelay time.Duration
	Cooldown time.Duration
	// MaxConsecutiveErrors 连续失败达到该值时会话终止
	MaxConsecutiveErrors int

	DefaultProviders []string
	DefaultTopic     string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		RoundDocuments:       3,
		StreamDocuments:      2,
		ContextPreload:       8,
		StimulusWindow:       6,
		HistoryTrimAt:        12,
		HistoryKeep:          8,
		MinDelay:             2 * time.Second,
		MaxDelay:             5 * time.Second,
		Cooldown:             3 * time.Second,
		MaxConsecutiveErrors: 5,
		DefaultProviders:     []string{"llama3.2:3b"},
		DefaultTopic:         DefaultTopic,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.RoundDocuments < 0 {
		c.RoundDocuments = 0
	}
	if c.StreamDocuments < 0 {
		c.StreamDocuments = 0
	}
	if c.ContextPreload <= 0 {
		c.ContextPreload = def.ContextPreload
	}
	if c.StimulusWindow <= 0 {
		c.StimulusWindow = def.StimulusWindow
	}
	if c.HistoryKeep <= 0 {
		c.HistoryKeep = def.HistoryKeep
	}
	if c.HistoryTrimAt < c.HistoryKeep {
		c.HistoryTrimAt = c.HistoryKeep
	}
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if len(c.DefaultProviders) == 0 {
		c.DefaultProviders = def.DefaultProviders
	}
	if c.DefaultTopic == "" {
		c.DefaultTopic = def.DefaultTopic
	}
	return c
}

// Option 配置 Orchestrator 的可选依赖
type Option func(*Orchestrator)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithTracer 替换 OTel tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithRand 替换 Provider 选择与延迟抖动使用的随机源
func WithRand(r stimulus.Rand) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.rand = r
		}
	}
}

// WithSleep 替换可取消的休眠函数
func WithSleep(sleep retry.SleepFunc) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithClock 替换事件时间戳的时钟
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStimulus 替换刺激生成器
func WithStimulus(g *stimulus.Generator) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.stimulus = g
		}
	}
}

// Orchestrator 驱动单轮与流式两种对话。自身无可变状态，可被多个会话并发使用；
// 每次运行的历史与计数器都属于该次调用。
type Orchestrator struct {
	cfg      Config
	registry *llm.Registry
	invoker  Invoker
	window   *window.Manager
	stimulus *stimulus.Generator
	store    Persistence

	rand    stimulus.Rand
	sleep   retry.SleepFunc
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// New 创建 Orchestrator。win 为 nil 时使用默认窗口配置。
func New(cfg Config, registry *llm.Registry, inv Invoker, win *window.Manager, st Persistence, opts ...Option) *Orchestrator {
	if win == nil {
		win = window.New(window.DefaultConfig(), nil)
	}
	o := &Orchestrator{
		cfg:      cfg.normalize(),
		registry: registry,
		invoker:  inv,
		window:   win,
		store:    st,
		rand:     stimulus.DefaultRand,
		sleep:    retry.SleepContext,
		now:      time.Now,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.stimulus == nil {
		o.stimulus = stimulus.New(stimulus.DefaultConfig(), o.rand)
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"))
	return o
}

// Config 返回生效的配置
func (o *Orchestrator) Config() Config { return o.cfg }

// persist 写入失败只记录日志，不影响内存中的对话
func (o *Orchestrator) persist(ctx context.Context, role types.Role, content, providerID string) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if _, err := o.store.AppendTurn(ctx, role, content, providerID); err != nil {
		perr := types.NewError(types.ErrPersistenceFailed, "append turn failed").WithCause(err).WithProvider(providerID)
		o.logger.Warn("persist turn failed",
			zap.String("role", string(role)),
			zap.String("provider", providerID),
			zap.Error(perr))
	}
}

func (o *Orchestrator) recentDocuments(ctx context.Context, limit int) []types.Document {
	if o.store == nil || limit <= 0 {
		return nil
	}
	docs, err := o.store.RecentDocuments(ctx, limit)
	if err != nil {
		o.logger.Warn("load recent documents failed", zap.Error(err))
		return nil
	}
	return docs
}

// randomDelay 在 [MinDelay, MaxDelay) 内均匀取值
func (o *Orchestrator) randomDelay() time.Duration {
	span := int(o.cfg.MaxDelay - o.cfg.MinDelay)
	if span <= 0 {
		return o.cfg.MinDelay
	}
	return o.cfg.MinDelay + time.Duration(o.rand.IntN(span))
}
