// =============================================================================
// 📦 AgentChorus 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTCHORUS").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/agentchorus/llm"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentChorus 的完整配置结构
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Store        StoreConfig        `yaml:"store" env:"STORE"`
	Database     DatabaseConfig     `yaml:"database" env:"DATABASE"`
	Mongo        MongoConfig        `yaml:"mongo" env:"MONGO"`
	Redis        RedisConfig        `yaml:"redis" env:"REDIS"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`
	Invoker      InvokerConfig      `yaml:"invoker" env:"INVOKER"`
	Backends     BackendsConfig     `yaml:"backends" env:"BACKENDS"`

	// Providers 只能在 YAML 中声明
	Providers []ProviderConfig `yaml:"providers"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort    int `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`

	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout 不作用于流式端点
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// KeepAliveInterval SSE 保活注释间隔
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval" env:"KEEP_ALIVE_INTERVAL"`

	RateLimitRPS   int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	// CORSAllowedOrigins 为空时允许任意来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// StoreConfig 持久化后端选择
type StoreConfig struct {
	// Type: memory, sql, mongo
	Type string `yaml:"type" env:"TYPE"`
	// CacheDocuments 为 true 且 Redis 启用时缓存最近文档
	CacheDocuments bool          `yaml:"cache_documents" env:"CACHE_DOCUMENTS"`
	CacheTTL       time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// AutoMigrate 启动时执行 schema 迁移（仅 sql）
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite（纯 Go）, sqlite3（cgo）
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI      string        `yaml:"uri" env:"URI"`
	Database string        `yaml:"database" env:"DATABASE"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// OrchestratorConfig 单轮与流式编排参数
type OrchestratorConfig struct {
	// 上下文窗口
	RoundWindow   int    `yaml:"round_window" env:"ROUND_WINDOW"`
	StreamWindow  int    `yaml:"stream_window" env:"STREAM_WINDOW"`
	ExcerptLength int    `yaml:"excerpt_length" env:"EXCERPT_LENGTH"`
	MaxTokens     int    `yaml:"max_tokens" env:"MAX_TOKENS"`
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`

	// 文档摘要数量
	RoundDocuments  int `yaml:"round_documents" env:"ROUND_DOCUMENTS"`
	StreamDocuments int `yaml:"stream_documents" env:"STREAM_DOCUMENTS"`

	// 流式会话
	DefaultTopic     string        `yaml:"default_topic" env:"DEFAULT_TOPIC"`
	DefaultProviders []string      `yaml:"default_providers" env:"DEFAULT_PROVIDERS"`
	ContextPreload   int           `yaml:"context_preload" env:"CONTEXT_PRELOAD"`
	StimulusWindow   int           `yaml:"stimulus_window" env:"STIMULUS_WINDOW"`
	HistoryTrimAt    int           `yaml:"history_trim_at" env:"HISTORY_TRIM_AT"`
	HistoryKeep      int           `yaml:"history_keep" env:"HISTORY_KEEP"`
	MinDelay         time.Duration `yaml:"min_delay" env:"MIN_DELAY"`
	MaxDelay         time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Cooldown         time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	MaxConsecutive   int           `yaml:"max_consecutive_errors" env:"MAX_CONSECUTIVE_ERRORS"`

	// 刺激节拍
	ContinuationEvery int `yaml:"continuation_every" env:"CONTINUATION_EVERY"`
	DebateEvery       int `yaml:"debate_every" env:"DEBATE_EVERY"`
}

// InvokerConfig Backend Invoker 的重试与校验参数
type InvokerConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BackoffBase       time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
	MaxDelay          time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Jitter            bool          `yaml:"jitter" env:"JITTER"`

	MinLength          int      `yaml:"min_length" env:"MIN_LENGTH"`
	SystemPrompt       string   `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	StripCallerSystem  bool     `yaml:"strip_caller_system" env:"STRIP_CALLER_SYSTEM"`
	RefusalPatterns    []string `yaml:"refusal_patterns" env:"REFUSAL_PATTERNS"`
	RejectRefusals     bool     `yaml:"reject_refusals" env:"REJECT_REFUSALS"`
	ReframeKeepContext bool     `yaml:"reframe_keep_context" env:"REFRAME_KEEP_CONTEXT"`
}

// BackendsConfig 各协议 Backend 的连接参数
type BackendsConfig struct {
	Ollama       OllamaBackendConfig       `yaml:"ollama" env:"OLLAMA"`
	OpenAICompat OpenAICompatBackendConfig `yaml:"openai_compat" env:"OPENAI_COMPAT"`
}

// OllamaBackendConfig Ollama 协议配置
type OllamaBackendConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	KeepAlive string        `yaml:"keep_alive" env:"KEEP_ALIVE"`
}

// OpenAICompatBackendConfig OpenAI 兼容协议配置。BaseURL 为空时不启用。
type OpenAICompatBackendConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ProviderConfig Provider 目录条目
type ProviderConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Color       string `yaml:"color"`
	Reliability string `yaml:"reliability"`
	Protocol    string `yaml:"protocol"`
	Model       string `yaml:"model"`
	Expertise   string `yaml:"expertise"`
	// Params 未声明的字段沿用默认生成参数
	Params *llm.GenerationParams `yaml:"params"`
}

// Descriptor 转换为 Registry 使用的描述
func (p ProviderConfig) Descriptor() llm.ProviderDescriptor {
	params := llm.DefaultGenerationParams()
	if p.Params != nil {
		params = *p.Params
	}
	protocol := llm.Protocol(p.Protocol)
	if protocol == "" {
		protocol = llm.ProtocolOllama
	}
	return llm.ProviderDescriptor{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Color:       p.Color,
		Reliability: llm.Reliability(p.Reliability),
		Protocol:    protocol,
		Model:       p.Model,
		Expertise:   p.Expertise,
		Params:      params,
	}
}

// Descriptors 返回全部 Provider 描述
func (c *Config) Descriptors() []llm.ProviderDescriptor {
	out := make([]llm.ProviderDescriptor, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, p.Descriptor())
	}
	return out
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTCHORUS",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置。文件中声明了 providers 时整体替换内置目录。
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	defaults := cfg.Providers
	cfg.Providers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = defaults
	}
	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	switch c.Store.Type {
	case "memory", "sql", "mongo":
	default:
		errs = append(errs, fmt.Sprintf("unsupported store type %q", c.Store.Type))
	}
	if c.Store.Type == "mongo" && c.Mongo.URI == "" {
		errs = append(errs, "mongo.uri is required for mongo store")
	}

	o := c.Orchestrator
	if o.MinDelay < 0 || o.MaxDelay < o.MinDelay {
		errs = append(errs, "orchestrator delays must satisfy 0 <= min_delay <= max_delay")
	}
	if o.MaxConsecutive <= 0 {
		errs = append(errs, "orchestrator.max_consecutive_errors must be positive")
	}
	if o.HistoryKeep <= 0 || o.HistoryTrimAt < o.HistoryKeep {
		errs = append(errs, "orchestrator history_trim_at must be >= history_keep > 0")
	}

	if c.Invoker.MaxAttempts <= 0 {
		errs = append(errs, "invoker.max_attempts must be positive")
	}
	if c.Invoker.BackoffMultiplier < 1 {
		errs = append(errs, "invoker.backoff_multiplier must be >= 1")
	}

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("providers[%d]: id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("providers[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		switch llm.Protocol(p.Protocol) {
		case "", llm.ProtocolOllama:
		case llm.ProtocolOpenAICompat:
			if c.Backends.OpenAICompat.BaseURL == "" {
				errs = append(errs, fmt.Sprintf("providers[%d]: openai_compat backend has no base_url", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("providers[%d]: unknown protocol %q", i, p.Protocol))
		}
		switch llm.Reliability(p.Reliability) {
		case "", llm.ReliabilityHigh, llm.ReliabilityMedium:
		default:
			errs = append(errs, fmt.Sprintf("providers[%d]: unknown reliability %q", i, p.Reliability))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation errors: " + strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
