package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/agentchorus/api"
	"github.com/BaSui01/agentchorus/llm"
	"go.uber.org/zap"
)

// =============================================================================
// 🤖 Provider 目录 Handler
// =============================================================================

// ProviderHandler 暴露 Provider 目录与探活
type ProviderHandler struct {
	registry    *llm.Registry
	concurrency int
	timeout     time.Duration
	probe       llm.ProbeFunc
	logger      *zap.Logger
}

// NewProviderHandler 创建 Provider 处理器。probe 为 nil 时调用 Backend.HealthCheck。
func NewProviderHandler(registry *llm.Registry, probe llm.ProbeFunc, logger *zap.Logger) *ProviderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if probe == nil {
		probe = HealthCheckProbe
	}
	return &ProviderHandler{
		registry:    registry,
		concurrency: 4,
		timeout:     30 * time.Second,
		probe:       probe,
		logger:      logger.With(zap.String("handler", "providers")),
	}
}

// HealthCheckProbe 使用 Backend 的轻量健康检查探活
func HealthCheckProbe(ctx context.Context, d llm.ProviderDescriptor, b llm.Backend) error {
	status, err := b.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if !status.Healthy {
		if status.Message != "" {
			return fmt.Errorf("%s unhealthy: %s", d.ID, status.Message)
		}
		return fmt.Errorf("%s unhealthy", d.ID)
	}
	return nil
}

// HandleList GET /api/providers
func (h *ProviderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, api.ProvidersResponse{Providers: h.registry.List()})
}

// HandleWorking GET /api/providers/working：只返回高可靠性 Provider
func (h *ProviderHandler) HandleWorking(w http.ResponseWriter, r *http.Request) {
	providers := h.registry.Reliable()
	if providers == nil {
		providers = []llm.ProviderDescriptor{}
	}
	WriteJSON(w, http.StatusOK, api.ProvidersResponse{Providers: providers})
}

// HandleHealth GET /api/providers/health：并发探测全部 Provider
func (h *ProviderHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := h.registry.ProbeAll(ctx, h.concurrency, h.probe)
	healthy := 0
	for _, res := range results {
		if res.Healthy {
			healthy++
		} else {
			h.logger.Warn("provider probe failed",
				zap.String("provider", res.ProviderID),
				zap.String("error", res.Error))
		}
	}
	WriteJSON(w, http.StatusOK, api.ProviderHealthResponse{
		Healthy:   healthy,
		Total:     len(results),
		Providers: results,
	})
}
