package api

import (
	"strconv"
	"strings"

	"github.com/BaSui01/agentchorus/conversation"
	"github.com/BaSui01/agentchorus/llm"
	"github.com/BaSui01/agentchorus/types"
)

// =============================================================================
// 💬 单轮对话
// =============================================================================

// Message 请求中的一条对话消息
type Message struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Provider string `json:"provider,omitempty"`
}

// ToTypes 转换为内部消息
func (m Message) ToTypes() types.Message {
	return types.Message{Role: types.Role(m.Role), Content: m.Content, Provider: m.Provider}
}

// ChatRequest POST /api/chat 请求体
type ChatRequest struct {
	Messages          []Message `json:"messages"`
	SelectedProviders []string  `json:"selectedProviders,omitempty"`
}

// History 转换为内部历史
func (r *ChatRequest) History() []types.Message {
	out := make([]types.Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = m.ToTypes()
	}
	return out
}

// ChatResponse POST /api/chat 响应体
type ChatResponse struct {
	Responses []conversation.RoundResponse `json:"responses"`
}

// =============================================================================
// 🔁 流式讨论
// =============================================================================

// StreamParams 流式讨论的查询参数：selectedProviders=a,b&topic=...&contextual=true
type StreamParams struct {
	SelectedProviders []string
	Topic             string
	Contextual        bool
}

// ParseStreamParams 从查询参数解析；contextual 无法解析时视为 false
func ParseStreamParams(get func(string) string) StreamParams {
	var p StreamParams
	if raw := get("selectedProviders"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				p.SelectedProviders = append(p.SelectedProviders, id)
			}
		}
	}
	p.Topic = get("topic")
	p.Contextual, _ = strconv.ParseBool(get("contextual"))
	return p
}

// SessionConfig 转换为会话配置
func (p StreamParams) SessionConfig(id string) conversation.SessionConfig {
	return conversation.SessionConfig{
		ID:         id,
		Providers:  p.SelectedProviders,
		Topic:      p.Topic,
		Contextual: p.Contextual,
	}
}

// =============================================================================
// 🤖 Provider
// =============================================================================

// ProvidersResponse GET /api/providers 与 /api/providers/working
type ProvidersResponse struct {
	Providers []llm.ProviderDescriptor `json:"providers"`
}

// ProviderHealthResponse GET /api/providers/health
type ProviderHealthResponse struct {
	Healthy   int               `json:"healthy"`
	Total     int               `json:"total"`
	Providers []llm.ProbeResult `json:"providers"`
}

// =============================================================================
// 📚 日志、文档与项目
// =============================================================================

// MessagesResponse GET /api/messages
type MessagesResponse struct {
	Messages []types.Turn `json:"messages"`
}

// DocumentsResponse GET /api/documents
type DocumentsResponse struct {
	Documents []types.Document `json:"documents"`
}

// ProjectsResponse GET /api/projects
type ProjectsResponse struct {
	Projects []types.Project `json:"projects"`
}

// CreateProjectRequest POST /api/project/create 请求体
type CreateProjectRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Requirements string `json:"requirements"`
}

// CreateProjectResponse POST /api/project/create 响应体
type CreateProjectResponse struct {
	Success      bool   `json:"success"`
	ProjectID    int64  `json:"projectId"`
	ProjectBrief string `json:"projectBrief"`
}

// UploadDocument 一份纯文本文档，不做格式解析
type UploadDocument struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

// UploadDocumentsRequest POST /api/documents 请求体
type UploadDocumentsRequest struct {
	Documents []UploadDocument `json:"documents"`
}

// UploadedFile 入库结果
type UploadedFile struct {
	ID           int64  `json:"id"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Type         string `json:"type"`
}

// UploadDocumentsResponse POST /api/documents 响应体
type UploadDocumentsResponse struct {
	Success bool           `json:"success"`
	Files   []UploadedFile `json:"files"`
	Message string         `json:"message"`
}
