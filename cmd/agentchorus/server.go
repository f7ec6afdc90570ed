package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentchorus/api/handlers"
	"github.com/BaSui01/agentchorus/config"
	"github.com/BaSui01/agentchorus/conversation"
	"github.com/BaSui01/agentchorus/conversation/stimulus"
	"github.com/BaSui01/agentchorus/conversation/window"
	"github.com/BaSui01/agentchorus/internal/cache"
	"github.com/BaSui01/agentchorus/internal/database"
	"github.com/BaSui01/agentchorus/internal/metrics"
	"github.com/BaSui01/agentchorus/internal/server"
	"github.com/BaSui01/agentchorus/internal/telemetry"
	"github.com/BaSui01/agentchorus/llm"
	"github.com/BaSui01/agentchorus/llm/invoker"
	"github.com/BaSui01/agentchorus/llm/providers/ollama"
	"github.com/BaSui01/agentchorus/llm/providers/openaicompat"
	"github.com/BaSui01/agentchorus/llm/tokenizer"
	"github.com/BaSui01/agentchorus/store"
	"github.com/BaSui01/agentchorus/store/gormstore"
	"github.com/BaSui01/agentchorus/store/mongostore"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 组装存储、Provider、编排器与 HTTP 端点
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	telemetry *telemetry.Providers
	metrics   *metrics.Collector

	store        store.Store
	cache        *cache.Manager
	registry     *llm.Registry
	orchestrator *conversation.Orchestrator

	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化依赖并启动 API 与 Metrics 两个端口，不阻塞
func (s *Server) Start(ctx context.Context) error {
	tp, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = tp

	s.metrics = metrics.NewCollector("agentchorus", s.logger)

	if s.store, err = s.openStore(ctx); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if err := s.initConversation(); err != nil {
		return fmt.Errorf("failed to init conversation: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store", s.cfg.Store.Type),
		zap.Int("providers", s.registry.Len()),
	)
	return nil
}

// =============================================================================
// 🗄️ 存储
// =============================================================================

// openStore 按 store.type 打开持久化后端，Redis 启用时为最近文档加缓存
func (s *Server) openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch s.cfg.Store.Type {
	case "memory":
		st = store.NewMemoryStore()
	case "sql":
		st, err = s.openSQLStore(ctx)
	case "mongo":
		st, err = mongostore.Open(ctx, mongostore.Config{
			URI:      s.cfg.Mongo.URI,
			Database: s.cfg.Mongo.Database,
			Timeout:  s.cfg.Mongo.Timeout,
		}, mongostore.WithLogger(s.logger), mongostore.WithMetrics(s.metrics))
	default:
		err = fmt.Errorf("unsupported store type %q", s.cfg.Store.Type)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("store opened", zap.String("type", s.cfg.Store.Type))

	if !s.cfg.Redis.Enabled || !s.cfg.Store.CacheDocuments {
		return st, nil
	}
	cc := cache.DefaultConfig()
	cc.Addr = s.cfg.Redis.Addr
	cc.Password = s.cfg.Redis.Password
	cc.DB = s.cfg.Redis.DB
	if s.cfg.Redis.KeyPrefix != "" {
		cc.KeyPrefix = s.cfg.Redis.KeyPrefix
	}
	if s.cfg.Redis.PoolSize > 0 {
		cc.PoolSize = s.cfg.Redis.PoolSize
	}
	if s.cfg.Redis.MinIdleConns > 0 {
		cc.MinIdleConns = s.cfg.Redis.MinIdleConns
	}
	s.cache, err = cache.NewManager(cc, s.logger)
	if err != nil {
		// 缓存只是加速层
		s.logger.Warn("redis unavailable, document cache disabled", zap.Error(err))
		return st, nil
	}
	s.cache.SetMetrics(s.metrics)
	return store.NewCachedStore(st, s.cache, s.cfg.Store.CacheTTL, s.logger), nil
}

func (s *Server) openSQLStore(ctx context.Context) (store.Store, error) {
	pool, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return nil, err
	}
	pool.SetMetrics(s.metrics)

	st, err := gormstore.New(pool,
		gormstore.WithLogger(s.logger),
		gormstore.WithMetrics(s.metrics),
		gormstore.WithName(s.cfg.Database.Driver))
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	if s.cfg.Store.AutoMigrate {
		if err := st.AutoMigrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return st, nil
}

// =============================================================================
// 🤖 Provider 与编排器
// =============================================================================

func (s *Server) initConversation() error {
	reg, err := buildRegistry(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.registry = reg

	inv, err := invoker.New(reg, invokerConfig(s.cfg.Invoker),
		invoker.WithLogger(s.logger),
		invoker.WithMetrics(s.metrics))
	if err != nil {
		return err
	}

	o := s.cfg.Orchestrator
	win := window.New(windowConfig(o), tokenizer.ForEncoding(o.TokenEncoding, s.logger))
	gen := stimulus.New(stimulus.Config{
		ContinuationEvery: o.ContinuationEvery,
		DebateEvery:       o.DebateEvery,
	}, nil)

	s.orchestrator = conversation.New(orchestratorConfig(o), reg, inv, win, s.store,
		conversation.WithLogger(s.logger),
		conversation.WithMetrics(s.metrics),
		conversation.WithStimulus(gen))
	return nil
}

// buildRegistry 为每种协议创建一个 Backend 并绑定 Provider 目录
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*llm.Registry, error) {
	b := cfg.Backends
	backends := map[llm.Protocol]llm.Backend{
		llm.ProtocolOllama: ollama.New(ollama.Config{
			BaseURL:   b.Ollama.BaseURL,
			Timeout:   b.Ollama.Timeout,
			KeepAlive: b.Ollama.KeepAlive,
		}, logger),
	}
	if b.OpenAICompat.BaseURL != "" {
		backends[llm.ProtocolOpenAICompat] = openaicompat.New(openaicompat.Config{
			BaseURL: b.OpenAICompat.BaseURL,
			APIKey:  b.OpenAICompat.APIKey,
			Timeout: b.OpenAICompat.Timeout,
		}, logger)
	}
	return llm.NewRegistry(cfg.Descriptors(), backends)
}

// invokerConfig 以 invoker.DefaultConfig 为底，覆盖配置中给出的值
func invokerConfig(c config.InvokerConfig) invoker.Config {
	ic := invoker.DefaultConfig()
	if c.MaxAttempts > 0 {
		ic.Policy.MaxAttempts = c.MaxAttempts
	}
	if c.BackoffBase > 0 {
		ic.Policy.BackoffBase = c.BackoffBase
	}
	if c.BackoffMultiplier >= 1 {
		ic.Policy.BackoffMultiplier = c.BackoffMultiplier
	}
	if c.MaxDelay > 0 {
		ic.Policy.MaxDelay = c.MaxDelay
	}
	ic.Policy.Jitter = c.Jitter
	if c.MinLength > 0 {
		ic.MinLength = c.MinLength
	}
	if c.SystemPrompt != "" {
		ic.SystemPrompt = c.SystemPrompt
	}
	if len(c.RefusalPatterns) > 0 {
		ic.RefusalPatterns = c.RefusalPatterns
	}
	ic.StripCallerSystem = c.StripCallerSystem
	ic.RejectRefusals = c.RejectRefusals
	ic.ReframeKeepContext = c.ReframeKeepContext
	return ic
}

func windowConfig(o config.OrchestratorConfig) window.Config {
	wc := window.DefaultConfig()
	if o.RoundWindow > 0 {
		wc.RoundWindow = o.RoundWindow
	}
	if o.StreamWindow > 0 {
		wc.StreamWindow = o.StreamWindow
	}
	if o.ExcerptLength > 0 {
		wc.ExcerptLength = o.ExcerptLength
	}
	wc.MaxTokens = o.MaxTokens
	return wc
}

func orchestratorConfig(o config.OrchestratorConfig) conversation.Config {
	return conversation.Config{
		RoundDocuments:       o.RoundDocuments,
		StreamDocuments:      o.StreamDocuments,
		ContextPreload:       o.ContextPreload,
		StimulusWindow:       o.StimulusWindow,
		HistoryTrimAt:        o.HistoryTrimAt,
		HistoryKeep:          o.HistoryKeep,
		MinDelay:             o.MinDelay,
		MaxDelay:             o.MaxDelay,
		Cooldown:             o.Cooldown,
		MaxConsecutiveErrors: o.MaxConsecutive,
		DefaultProviders:     o.DefaultProviders,
		DefaultTopic:         o.DefaultTopic,
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// apiHandlers 路由依赖
type apiHandlers struct {
	health    *handlers.HealthHandler
	chat      *handlers.ChatHandler
	stream    *handlers.StreamHandler
	providers *handlers.ProviderHandler
	library   *handlers.LibraryHandler
}

// registerRoutes 注册全部 API 路由（Go 1.22 方法模式）
func registerRoutes(mux *http.ServeMux, h apiHandlers) {
	mux.HandleFunc("GET /health", h.health.HandleHealth)
	mux.HandleFunc("GET /healthz", h.health.HandleHealth)
	mux.HandleFunc("GET /ready", h.health.HandleReady)
	mux.HandleFunc("GET /version", h.health.HandleVersion(BuildTime, GitCommit))

	mux.HandleFunc("POST /api/chat", h.chat.HandleChat)
	mux.HandleFunc("GET /api/infinite-chat", h.stream.HandleSSE)
	mux.HandleFunc("GET /api/infinite-chat/ws", h.stream.HandleWebSocket)

	mux.HandleFunc("GET /api/providers", h.providers.HandleList)
	mux.HandleFunc("GET /api/providers/working", h.providers.HandleWorking)
	mux.HandleFunc("GET /api/providers/health", h.providers.HandleHealth)

	mux.HandleFunc("GET /api/messages", h.library.HandleMessages)
	mux.HandleFunc("GET /api/documents", h.library.HandleDocuments)
	mux.HandleFunc("POST /api/documents", h.library.HandleUploadDocuments)
	mux.HandleFunc("GET /api/projects", h.library.HandleProjects)
	mux.HandleFunc("POST /api/project/create", h.library.HandleCreateProject)
}

func (s *Server) newHandlers() apiHandlers {
	health := handlers.NewHealthHandler(Version, s.logger)
	health.RegisterCheck(handlers.NewCheck("store", s.store.Ping))
	if s.cache != nil {
		health.RegisterCheck(handlers.NewCheck("redis", s.cache.Ping))
	}

	streamOpts := []handlers.StreamOption{handlers.WithOriginPatterns(originPatterns(s.cfg.Server.CORSAllowedOrigins)...)}
	if s.cfg.Server.KeepAliveInterval > 0 {
		streamOpts = append(streamOpts, handlers.WithKeepAlive(s.cfg.Server.KeepAliveInterval))
	}

	return apiHandlers{
		health:    health,
		chat:      handlers.NewChatHandler(s.orchestrator, s.logger),
		stream:    handlers.NewStreamHandler(s.orchestrator, s.logger, streamOpts...),
		providers: handlers.NewProviderHandler(s.registry, nil, s.logger),
		library:   handlers.NewLibraryHandler(s.store, s.logger),
	}
}

// originPatterns 将 CORS 来源转换为 WebSocket 的 host 模式；为空时允许任意来源
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// middleware 构建中间件链，最外层先执行
func (s *Server) middleware(ctx context.Context) []Middleware {
	return []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.metrics),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	}
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()
	registerRoutes(mux, s.newHandlers())

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel
	handler := Chain(mux, s.middleware(rateLimiterCtx)...)

	cfg := server.FromServerConfig(s.cfg.Server.HTTPPort, s.cfg.Server)
	s.httpManager = server.NewManager("api", handler, cfg, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	cfg := server.FromServerConfig(s.cfg.Server.MetricsPort, s.cfg.Server)
	s.metricsManager = server.NewManager("metrics", mux, cfg, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞到收到信号或服务器异常，然后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	if s.httpManager != nil {
		if err := s.httpManager.Wait(ctx); err != nil {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}
	s.Shutdown(context.Background())
}

// Shutdown 先停 HTTP（取消进行中的流式会话），再释放存储与遥测
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Starting graceful shutdown...")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.telemetry != nil {
		tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		errs = append(errs, s.telemetry.Shutdown(tctx))
		cancel()
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("resource cleanup error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
