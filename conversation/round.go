package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/agentchorus/conversation/directive"
	"github.com/BaSui01/agentchorus/conversation/window"
	"github.com/BaSui01/agentchorus/store"
	"github.com/BaSui01/agentchorus/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RoundResponse 是单个 Provider 在一轮中的结果。失败时 Error 非空，Content 为可展示的错误文本。
type RoundResponse struct {
	Provider     string     `json:"provider"`
	ProviderName string     `json:"providerName"`
	Content      string     `json:"content"`
	Color        string     `json:"color"`
	Role         types.Role `json:"role"`
	Expertise    string     `json:"expertise,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Failed 报告该条目是否为错误条目
func (r RoundResponse) Failed() bool { return r.Error != "" }

// RoundResult 一轮的全部结果，顺序与请求中的 Provider 顺序一致（未知 Provider 除外）。
type RoundResult struct {
	Directive directive.Directive `json:"directive"`
	Responses []RoundResponse     `json:"responses"`
}

// RunRound 让每个 Provider 依次回应同一段历史，后一个 Provider 能看到前面的回答。
// 历史为空时返回 *ValidationError；providers 为空时使用默认 Provider。
func (o *Orchestrator) RunRound(ctx context.Context, history []types.Message, providers []string) (*RoundResult, error) {
	if len(history) == 0 {
		return nil, &ValidationError{Field: "messages", Reason: "must contain at least one message"}
	}
	for i, m := range history {
		if !m.Role.Valid() {
			return nil, &ValidationError{Field: fmt.Sprintf("messages[%d].role", i), Reason: fmt.Sprintf("unknown role %q", m.Role)}
		}
	}
	if len(providers) == 0 {
		providers = o.cfg.DefaultProviders
	}

	working := NewHistory(history...)
	last := history[len(history)-1]
	userText := last.Content
	if lu, ok := working.LastUser(); ok {
		userText = lu.Content
	}
	dir := directive.Classify(userText)

	ctx, span := o.tracer.Start(ctx, "conversation.RunRound",
		trace.WithAttributes(
			attribute.Int("round.providers", len(providers)),
			attribute.String("round.directive", string(dir.Kind)),
		),
	)
	defer span.End()
	start := time.Now()

	o.logger.Info("round started",
		zap.Strings("providers", providers),
		zap.String("directive", string(dir.Kind)),
		zap.Int("history", len(history)))

	docs := o.recentDocuments(ctx, o.cfg.RoundDocuments)
	// 末尾不是用户消息时，该用户轮次已在之前的请求中落库
	if last.Role == types.RoleUser {
		o.persist(ctx, types.RoleUser, last.Content, store.ProviderUser)
	}

	result := &RoundResult{Directive: dir, Responses: make([]RoundResponse, 0, len(providers))}
	for i, id := range providers {
		desc, err := o.registry.Resolve(id)
		if err != nil {
			o.logger.Warn("skipping unknown provider", zap.String("provider", id))
			continue
		}

		msgs := o.window.Build(window.BuildRequest{
			History:   working.Messages(),
			Directive: dir,
			Provider:  desc,
			TurnIndex: i,
			Documents: docs,
		})
		reply, err := o.invoker.Invoke(ctx, desc.ID, msgs)
		if err != nil {
			o.logger.Warn("provider failed in round",
				zap.String("provider", desc.ID),
				zap.Int("index", i),
				zap.Error(err))
			o.metrics.RecordRoundResponse(desc.ID, "error")
			result.Responses = append(result.Responses, RoundResponse{
				Provider:     desc.ID,
				ProviderName: desc.DisplayName(),
				Content:      fmt.Sprintf(roundErrorFormat, desc.ID, err.Error()),
				Color:        ErrorColor,
				Role:         types.RoleAssistant,
				Error:        err.Error(),
			})
			continue
		}

		o.metrics.RecordRoundResponse(desc.ID, "ok")
		result.Responses = append(result.Responses, RoundResponse{
			Provider:     desc.ID,
			ProviderName: desc.DisplayName(),
			Content:      reply,
			Color:        desc.DisplayColor(),
			Role:         types.RoleAssistant,
			Expertise:    desc.ExpertiseOrDefault(),
		})
		working.Append(types.NewAssistantMessage(desc.ID, reply))
		o.persist(ctx, types.RoleAssistant, reply, desc.ID)
	}

	o.metrics.RecordRound(string(dir.Kind), time.Since(start))
	span.SetAttributes(attribute.Int("round.responses", len(result.Responses)))
	o.logger.Info("round finished",
		zap.Int("responses", len(result.Responses)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}
