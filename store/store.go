// Package store 定义对话日志、文档与项目的持久化接口，并提供内存实现与带缓存的装饰器。
//
// 支持的后端：
//   - memory：开发与测试（默认），重启后数据丢失
//   - sql：gorm（postgres / mysql / sqlite），见 store/gormstore
//   - mongo：MongoDB，见 store/mongostore
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BaSui01/agentchorus/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType 存储后端类型
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
)

// Provider 哨兵值，用于非助手轮次
const (
	ProviderUser           = "user"
	ProviderInfiniteChat   = "infinite-chat"
	ProviderProjectManager = "project-manager"
	ProviderFileManager    = "file-manager"
)

// TurnStore 追加式对话日志
type TurnStore interface {
	// AppendTurn 写入一条轮次并返回其 id
	AppendTurn(ctx context.Context, role types.Role, content, providerID string) (int64, error)
	// ListTurns 按时间顺序返回全部轮次
	ListTurns(ctx context.Context) ([]types.Turn, error)
	// RecentTurns 返回最新的 limit 条 user/assistant 轮次，最新在前
	RecentTurns(ctx context.Context, limit int) ([]types.Turn, error)
}

// DocumentStore 已上传文档的文本与元数据
type DocumentStore interface {
	// SaveDocuments 原子地保存一批文档，并写入一条 file-manager 系统通知轮次（UploadNotice）。
	// 成功后回填每个文档的 ID 与 CreatedAt。
	SaveDocuments(ctx context.Context, docs []*types.Document) error
	// ListDocuments 返回元数据（不含正文），最新在前
	ListDocuments(ctx context.Context) ([]types.Document, error)
	// RecentDocuments 返回含正文的最新 limit 个文档，最新在前
	RecentDocuments(ctx context.Context, limit int) ([]types.Document, error)
}

// ProjectStore 项目简报
type ProjectStore interface {
	// CreateProject 原子地保存项目，并写入一条 project-manager 系统简报轮次（ProjectBrief）。
	// 任一写入失败时两者都不生效。
	CreateProject(ctx context.Context, p *types.Project) (int64, error)
	// ListProjects 最新在前
	ListProjects(ctx context.Context) ([]types.Project, error)
}

// Store 聚合全部存储能力，实现必须可并发使用。
type Store interface {
	TurnStore
	DocumentStore
	ProjectStore

	// Ping 检查存储是否健康
	Ping(ctx context.Context) error
	// Close 释放资源
	Close() error
}

// Chronological 将最新在前的轮次就地反转为时间顺序
func Chronological(turns []types.Turn) []types.Turn {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}

// ProjectBrief 生成新项目的系统简报轮次内容
func ProjectBrief(p *types.Project) string {
	return "NEW PROJECT CREATED: " + p.Name +
		"\n\nDescription: " + p.Description +
		"\n\nRequirements: " + p.Requirements +
		"\n\nAll AIs should collaborate on breaking this down into tasks and assigning responsibilities based on expertise."
}

// UploadNotice 生成文档入库后的系统通知轮次内容
func UploadNotice(docs []*types.Document) string {
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.OriginalName + " (" + d.FileType + ")"
	}
	return "FILES UPLOADED: " + strings.Join(names, ", ") +
		"\n\nFiles are now available for AI analysis. Use /analyze to have all AIs examine these documents, or reference them in your conversations."
}

// CheckDocuments 校验一批待保存的文档：非空且每个都有原始文件名
func CheckDocuments(docs []*types.Document) error {
	if len(docs) == 0 {
		return ErrInvalidInput
	}
	for _, d := range docs {
		if d == nil || d.OriginalName == "" {
			return ErrInvalidInput
		}
	}
	return nil
}

// WithoutContent 返回去掉正文的文档副本，用于列表接口
func WithoutContent(docs []types.Document) []types.Document {
	out := make([]types.Document, len(docs))
	for i, d := range docs {
		d.Content = ""
		out[i] = d
	}
	return out
}
