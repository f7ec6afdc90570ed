package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/agentchorus/conversation/directive"
	"github.com/BaSui01/agentchorus/conversation/window"
	"github.com/BaSui01/agentchorus/llm"
	"github.com/BaSui01/agentchorus/store"
	"github.com/BaSui01/agentchorus/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SessionConfig 流式会话参数
type SessionConfig struct {
	// ID 为空时自动生成
	ID        string
	Providers []string
	// Topic 为空时使用 Config.DefaultTopic
	Topic string
	// Contextual 为 true 时预载最近的已存储对话
	Contextual bool
}

// Session 一个流式会话的运行时状态，只属于驱动它的那次 Stream 调用。
type Session struct {
	ID                string
	Providers         []llm.ProviderDescriptor
	Topic             string
	Contextual        bool
	Directive         directive.Directive
	MessageCount      int
	ConsecutiveErrors int
	Active            bool

	history *History
	// lastFailed 上一次失败的 Provider，下一次选择时排除
	lastFailed string
}

// Stream 运行一个流式会话，直到客户端断开或连续失败达到阈值。
// 客户端断开返回 (StoppedByClient, nil)；连续失败返回 StoppedOnFailure 与 SESSION_FATAL 错误。
// 参数无效时返回 *ValidationError，且不会发送任何事件。
func (o *Orchestrator) Stream(ctx context.Context, cfg SessionConfig, sink EventSink) (StopReason, error) {
	sess, err := o.NewSession(ctx, cfg)
	if err != nil {
		return "", err
	}
	return o.Run(ctx, sess, sink)
}

// NewSession 校验参数并初始化会话：可选预载历史，持久化话题。
func (o *Orchestrator) NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	ids := cfg.Providers
	if len(ids) == 0 {
		ids = o.cfg.DefaultProviders
	}
	descs := make([]llm.ProviderDescriptor, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		desc, err := o.registry.Resolve(id)
		if err != nil {
			o.logger.Warn("ignoring unknown provider", zap.String("provider", id))
			continue
		}
		descs = append(descs, desc)
	}
	if len(descs) == 0 {
		return nil, &ValidationError{Field: "selectedProviders", Reason: fmt.Sprintf("no known provider in %v", ids)}
	}

	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = o.cfg.DefaultTopic
	}
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	sess := &Session{
		ID:         id,
		Providers:  descs,
		Topic:      topic,
		Contextual: cfg.Contextual,
		Directive:  directive.Classify(topic),
		Active:     true,
		history:    NewHistory(),
	}
	if cfg.Contextual && o.store != nil {
		turns, err := o.store.RecentTurns(ctx, o.cfg.ContextPreload)
		if err != nil {
			o.logger.Warn("preload history failed", zap.String("session", id), zap.Error(err))
		} else {
			sess.history = HistoryFromTurns(store.Chronological(turns))
		}
	}
	o.persist(ctx, types.RoleUser, topic, store.ProviderInfiniteChat)
	return sess, nil
}

// Run 驱动已初始化的会话。每次迭代都会检查 ctx；ctx 取消后不再发送事件。
func (o *Orchestrator) Run(ctx context.Context, sess *Session, sink EventSink) (StopReason, error) {
	ctx = types.WithSessionID(ctx, sess.ID)
	ctx, span := o.tracer.Start(ctx, "conversation.Stream",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.Int("session.providers", len(sess.Providers)),
			attribute.Bool("session.contextual", sess.Contextual),
		),
	)
	defer span.End()

	logger := o.logger.With(zap.String("session", sess.ID))
	logger.Info("stream session started",
		zap.Int("providers", len(sess.Providers)),
		zap.String("directive", string(sess.Directive.Kind)),
		zap.Int("preloaded", sess.history.Len()))
	o.metrics.SessionStarted()

	reason, err := o.loop(ctx, sess, sink, logger)
	sess.Active = false

	o.metrics.SessionStopped(string(reason))
	span.SetAttributes(
		attribute.String("session.stop_reason", string(reason)),
		attribute.Int("session.messages", sess.MessageCount),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	logger.Info("stream session stopped",
		zap.String("reason", string(reason)),
		zap.Int("messages", sess.MessageCount))
	return reason, err
}

func (o *Orchestrator) loop(ctx context.Context, sess *Session, sink EventSink, logger *zap.Logger) (StopReason, error) {
	for {
		if ctx.Err() != nil {
			return StoppedByClient, nil
		}

		desc := o.pickProvider(sess)
		sess.MessageCount++

		reply, err := o.streamTurn(ctx, sess, desc)
		if ctx.Err() != nil {
			return StoppedByClient, nil
		}

		if err != nil {
			sess.ConsecutiveErrors++
			logger.Warn("stream turn failed",
				zap.String("provider", desc.ID),
				zap.Int("consecutive", sess.ConsecutiveErrors),
				zap.Int("max", o.cfg.MaxConsecutiveErrors),
				zap.Error(err))

			if sess.ConsecutiveErrors >= o.cfg.MaxConsecutiveErrors {
				// 终止事件发送失败也不改变结果：会话已经不可恢复
				_ = o.emit(ctx, sink, Event{Type: EventError, Content: FatalNotice, Color: ErrorColor})
				return StoppedOnFailure, types.NewError(types.ErrSessionFatal,
					fmt.Sprintf("%d consecutive provider failures", sess.ConsecutiveErrors)).WithCause(err)
			}
			if len(sess.Providers) > 1 {
				sess.lastFailed = desc.ID
				logger.Info("switching provider after failure", zap.String("failed", desc.ID))
				continue
			}
			if err := o.emit(ctx, sink, Event{
				Type:         EventError,
				MessageCount: sess.MessageCount,
				Provider:     desc.ID,
				ProviderName: desc.DisplayName(),
				Content:      RetryNotice,
				Color:        ErrorColor,
			}); err != nil {
				return StoppedByClient, nil
			}
			if o.sleep(ctx, o.cfg.Cooldown) != nil {
				return StoppedByClient, nil
			}
			continue
		}

		if err := o.emit(ctx, sink, Event{
			Type:         EventMessage,
			MessageCount: sess.MessageCount,
			Provider:     desc.ID,
			ProviderName: desc.DisplayName(),
			Content:      reply,
			Color:        desc.DisplayColor(),
			Timestamp:    formatTimestamp(o.now()),
			Expertise:    desc.ExpertiseOrDefault(),
		}); err != nil {
			logger.Info("client went away", zap.Error(err))
			return StoppedByClient, nil
		}

		sess.history.Append(types.NewAssistantMessage(desc.ID, reply))
		sess.history.Trim(o.cfg.HistoryTrimAt, o.cfg.HistoryKeep)
		o.persist(ctx, types.RoleAssistant, reply, desc.ID)
		sess.ConsecutiveErrors = 0
		sess.lastFailed = ""

		if o.sleep(ctx, o.randomDelay()) != nil {
			return StoppedByClient, nil
		}
	}
}

// streamTurn 构造上下文并调用 Provider。空白回复视为失败。
func (o *Orchestrator) streamTurn(ctx context.Context, sess *Session, desc llm.ProviderDescriptor) (string, error) {
	recent := sess.history.Trailing(o.cfg.StimulusWindow)
	stim, _ := o.stimulus.MaybeStimulate(sess.MessageCount, recent)

	msgs := o.window.BuildStreaming(window.StreamRequest{
		History:      sess.history.Messages(),
		Topic:        sess.Topic,
		Directive:    sess.Directive,
		Provider:     desc,
		MessageCount: sess.MessageCount,
		Contextual:   sess.Contextual,
		Stimulus:     stim,
		Documents:    o.recentDocuments(ctx, o.cfg.StreamDocuments),
	})
	reply, err := o.invoker.Invoke(ctx, desc.ID, msgs)
	if err != nil {
		return "", err
	}
	if (types.Message{Content: reply}).Blank() {
		return "", errBlankReply
	}
	return reply, nil
}

// pickProvider 均匀随机选择，排除上一次失败的 Provider（若还有其他可选）。
func (o *Orchestrator) pickProvider(sess *Session) llm.ProviderDescriptor {
	pool := sess.Providers
	if sess.lastFailed != "" && len(pool) > 1 {
		filtered := make([]llm.ProviderDescriptor, 0, len(pool)-1)
		for _, d := range pool {
			if d.ID != sess.lastFailed {
				filtered = append(filtered, d)
			}
		}
		if len(filtered) > 0 {
			pool = filtered
		}
	}
	return pool[o.rand.IntN(len(pool))]
}

// emit 发送事件。ctx 已取消时不发送。
func (o *Orchestrator) emit(ctx context.Context, sink EventSink, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sink.Emit(ctx, ev); err != nil {
		return err
	}
	o.metrics.RecordSessionEvent(string(ev.Type))
	return nil
}
