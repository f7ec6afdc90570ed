// =============================================================================
// 📦 AgentChorus 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/agentchorus/llm"
)

// DefaultTopic 流式会话未指定话题时使用
const DefaultTopic = "Welcome to our ongoing discussion! Feel free to talk about anything that interests you."

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Store:        DefaultStoreConfig(),
		Database:     DefaultDatabaseConfig(),
		Mongo:        DefaultMongoConfig(),
		Redis:        DefaultRedisConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Invoker:      DefaultInvokerConfig(),
		Backends:     DefaultBackendsConfig(),
		Providers:    DefaultProviders(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:          3001,
		MetricsPort:       9091,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		ShutdownTimeout:   15 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		RateLimitRPS:      100,
		RateLimitBurst:    200,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:        "memory",
		CacheTTL:    30 * time.Second,
		AutoMigrate: true,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "agentchorus",
		Password:        "",
		Name:            "conversations.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:      "",
		Database: "agentchorus",
		Timeout:  10 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		KeyPrefix:    "agentchorus:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentchorus",
		SampleRate:   0.1,
	}
}

// DefaultOrchestratorConfig 返回默认编排参数
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		RoundWindow:       8,
		StreamWindow:      4,
		ExcerptLength:     300,
		MaxTokens:         0,
		TokenEncoding:     "cl100k_base",
		RoundDocuments:    3,
		StreamDocuments:   2,
		DefaultTopic:      DefaultTopic,
		DefaultProviders:  []string{"llama3.2:3b"},
		ContextPreload:    8,
		StimulusWindow:    6,
		HistoryTrimAt:     12,
		HistoryKeep:       8,
		MinDelay:          2 * time.Second,
		MaxDelay:          5 * time.Second,
		Cooldown:          3 * time.Second,
		MaxConsecutive:    5,
		ContinuationEvery: 10,
		DebateEvery:       6,
	}
}

// DefaultInvokerConfig 返回默认 Invoker 参数。RefusalPatterns 为空表示使用内置列表。
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		Jitter:            false,
		MinLength:         10,
	}
}

// DefaultBackendsConfig 返回默认 Backend 连接参数
func DefaultBackendsConfig() BackendsConfig {
	return BackendsConfig{
		Ollama: OllamaBackendConfig{
			BaseURL:   "http://localhost:11434",
			Timeout:   2 * time.Minute,
			KeepAlive: "5m",
		},
		OpenAICompat: OpenAICompatBackendConfig{
			Timeout: 60 * time.Second,
		},
	}
}

// DefaultProviders 返回内置的本地模型目录
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:          "mistral:7b",
			Name:        "Mistral 7B",
			Description: "Advanced reasoning, philosophy, and analysis",
			Color:       "#7c3aed",
			Reliability: string(llm.ReliabilityHigh),
			Protocol:    string(llm.ProtocolOllama),
			Model:       "mistral:7b",
			Expertise:   "System architecture, logic design, performance optimization",
		},
		{
			ID:          "codellama:7b",
			Name:        "CodeLlama 7B",
			Description: "Programming, technical analysis, and logic",
			Color:       "#059669",
			Reliability: string(llm.ReliabilityHigh),
			Protocol:    string(llm.ProtocolOllama),
			Model:       "codellama:7b",
			Expertise:   "Code implementation, debugging, syntax optimization",
		},
		{
			ID:          "llama3.2:3b",
			Name:        "Llama 3.2 3B",
			Description: "Creative thinking and diverse perspectives",
			Color:       "#3b82f6",
			Reliability: string(llm.ReliabilityMedium),
			Protocol:    string(llm.ProtocolOllama),
			Model:       "llama3.2:3b",
			Expertise:   "Project management, documentation, testing strategies",
		},
		{
			ID:          "llama3.2:1b",
			Name:        "Llama 3.2 1B",
			Description: "Quick insights and alternative viewpoints",
			Color:       "#dc2626",
			Reliability: string(llm.ReliabilityMedium),
			Protocol:    string(llm.ProtocolOllama),
			Model:       "llama3.2:1b",
			Expertise:   "Quick prototyping, validation, integration testing",
		},
	}
}
