package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/BaSui01/agentchorus/api"
	"github.com/BaSui01/agentchorus/store"
	"github.com/BaSui01/agentchorus/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📚 对话日志、文档与项目 Handler
// =============================================================================

// MaxUploadDocuments 单次入库的文档上限
const MaxUploadDocuments = 5

// LibraryHandler 日志、文档与项目
type LibraryHandler struct {
	store  store.Store
	logger *zap.Logger
}

// NewLibraryHandler 创建处理器
func NewLibraryHandler(st store.Store, logger *zap.Logger) *LibraryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LibraryHandler{store: st, logger: logger.With(zap.String("handler", "library"))}
}

// HandleMessages GET /api/messages：按时间顺序的完整对话日志
func (h *LibraryHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	turns, err := h.store.ListTurns(r.Context())
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrPersistenceFailed, "Failed to get messages").WithCause(err), h.logger)
		return
	}
	if turns == nil {
		turns = []types.Turn{}
	}
	WriteJSON(w, http.StatusOK, api.MessagesResponse{Messages: turns})
}

// HandleDocuments GET /api/documents：文档元数据，最新在前
func (h *LibraryHandler) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments(r.Context())
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrPersistenceFailed, "Failed to fetch documents").WithCause(err), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.DocumentsResponse{Documents: store.WithoutContent(docs)})
}

// HandleProjects GET /api/projects：最新在前
func (h *LibraryHandler) HandleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects(r.Context())
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrPersistenceFailed, "Failed to fetch projects").WithCause(err), h.logger)
		return
	}
	if projects == nil {
		projects = []types.Project{}
	}
	WriteJSON(w, http.StatusOK, api.ProjectsResponse{Projects: projects})
}

// HandleCreateProject POST /api/project/create：保存项目并写入一条项目简报系统轮次
func (h *LibraryHandler) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.CreateProjectRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteError(w, r, types.NewInvalidRequestError("name is required"), h.logger)
		return
	}

	project := &types.Project{
		Name:         req.Name,
		Description:  req.Description,
		Requirements: req.Requirements,
		Status:       "active",
	}
	id, err := h.store.CreateProject(r.Context(), project)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrPersistenceFailed, "Failed to create project").WithCause(err), h.logger)
		return
	}

	h.logger.Info("project created", zap.Int64("project_id", id), zap.String("name", project.Name))
	WriteJSON(w, http.StatusOK, api.CreateProjectResponse{Success: true, ProjectID: id, ProjectBrief: store.ProjectBrief(project)})
}

// HandleUploadDocuments POST /api/documents：保存纯文本文档，并写入一条 file-manager 通知轮次
func (h *LibraryHandler) HandleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.UploadDocumentsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	docs, err := documentsFromRequest(req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := h.store.SaveDocuments(r.Context(), docs); err != nil {
		WriteError(w, r, types.NewError(types.ErrPersistenceFailed, "File upload failed").WithCause(err), h.logger)
		return
	}

	files := make([]api.UploadedFile, len(docs))
	for i, d := range docs {
		files[i] = api.UploadedFile{ID: d.ID, OriginalName: d.OriginalName, Size: d.FileSize, Type: d.FileType}
	}
	h.logger.Info("documents uploaded", zap.Int("count", len(docs)))
	WriteJSON(w, http.StatusOK, api.UploadDocumentsResponse{
		Success: true,
		Files:   files,
		Message: fmt.Sprintf("Successfully uploaded %d file(s)", len(docs)),
	})
}

func documentsFromRequest(req api.UploadDocumentsRequest) ([]*types.Document, *types.Error) {
	if len(req.Documents) == 0 {
		return nil, types.NewInvalidRequestError("documents is required")
	}
	if len(req.Documents) > MaxUploadDocuments {
		return nil, types.NewInvalidRequestError(fmt.Sprintf("at most %d documents per upload", MaxUploadDocuments))
	}
	docs := make([]*types.Document, 0, len(req.Documents))
	for i, d := range req.Documents {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, types.NewInvalidRequestError(fmt.Sprintf("documents[%d].name is required", i))
		}
		if strings.TrimSpace(d.Content) == "" {
			return nil, types.NewInvalidRequestError(fmt.Sprintf("documents[%d].content is required", i))
		}
		docs = append(docs, &types.Document{
			OriginalName: name,
			Content:      d.Content,
			FileType:     documentType(name, d.Type),
			MimeType:     "text/plain",
			FileSize:     int64(len(d.Content)),
		})
	}
	return docs, nil
}

// documentType 优先使用声明的类型，否则取扩展名，都没有时为 text
func documentType(name, declared string) string {
	if t := strings.ToLower(strings.TrimSpace(declared)); t != "" {
		return t
	}
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."); ext != "" {
		return ext
	}
	return "text"
}
