package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/nanobot/internal/bus"
	"github.com/nextlevelbuilder/nanobot/internal/prompt"
	"github.com/nextlevelbuilder/nanobot/internal/providers"
	"github.com/nextlevelbuilder/nanobot/internal/sessions"
	"github.com/nextlevelbuilder/nanobot/internal/tools"
)

// historyLimit bounds how much session history is replayed into a turn.
const historyLimit = 50

// TurnService runs one inbound message through a full turn: session
// resolution, prompt assembly, the engine, post-processing, and
// persistence. The system variant handles cron/subagent results
// arriving on the system channel.
type TurnService struct {
	engine   *Engine
	sessions *sessions.Manager
	builder  *prompt.Builder
	registry *tools.Registry

	userTitle string
	system    bool
	parallel  bool
}

func NewUserTurnService(engine *Engine, sess *sessions.Manager, builder *prompt.Builder, registry *tools.Registry, userTitle string, parallelTools bool) *TurnService {
	return &TurnService{engine: engine, sessions: sess, builder: builder, registry: registry, userTitle: userTitle, parallel: parallelTools}
}

func NewSystemTurnService(engine *Engine, sess *sessions.Manager, builder *prompt.Builder, registry *tools.Registry, userTitle string) *TurnService {
	return &TurnService{engine: engine, sessions: sess, builder: builder, registry: registry, userTitle: userTitle, system: true}
}

// Process runs the turn. A nil outbound with nil error means a silent
// reply.
func (s *TurnService) Process(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error) {
	sessionKey := msg.SessionKey()
	s.sessions.GetOrCreate(sessionKey)

	s.registry.SetDeliveryContext(msg.Channel, msg.ChatID, sessionKey, msg.TraceID)

	messages := s.buildMessages(msg, sessionKey)

	flags := TurnFlags{}
	if !s.system {
		flags = TurnFlags{
			ParseCallsFromText: true,
			IncludeSeverity:    true,
			ParallelToolExec:   s.parallel,
			CompactAfterTools:  true,
		}
	}

	outcome := s.engine.Run(ctx, messages, msg.TraceID, flags, tools.RuntimeContext{
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		TraceID:    msg.TraceID,
		SessionKey: sessionKey,
	})

	content := StripReasoning(outcome.Content)

	report := AuditTruthfulness(content, outcome.UsedTools, s.registry)
	content = report.Content
	if report.MarkedLines > 0 {
		s.sessions.AddMessage(sessionKey, sessions.Record{
			Role:    "system",
			Content: fmt.Sprintf("上一条回复中有 %d 行声称使用了未实际执行的工具，已被审计标记。之后请只陈述真实执行过的操作。", report.MarkedLines),
		})
	}

	if !s.system {
		content = EnforceExecutionTruth(content, outcome.UsedTools, outcome.Stats)
	}
	content = SanitizeAssistantContent(content)

	s.persist(sessionKey, msg, content)

	if IsSilentReply(outcome.Content) || IsSilentReply(content) {
		return nil, nil
	}

	channel, chatID := s.resolveOrigin(msg)
	return &bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
		TraceID: msg.TraceID,
	}, nil
}

func (s *TurnService) buildMessages(msg bus.InboundMessage, sessionKey string) []providers.Message {
	systemPrompt := s.builder.Build(prompt.BuildInput{
		UserTitle:   s.userTitle,
		ModelName:   s.engine.router.PrimaryModel(),
		MemoryQuery: msg.Content,
	})

	messages := []providers.Message{{Role: "system", Content: systemPrompt}}

	history := s.sessions.History(sessionKey)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	for _, rec := range history {
		messages = append(messages, providers.Message{
			Role:       rec.Role,
			Content:    rec.Content,
			ToolCalls:  rec.ToolCalls,
			ToolCallID: rec.ToolCallID,
			Name:       rec.Name,
		})
	}

	content := msg.Content
	if s.system {
		sender := msg.SenderID
		if sender == "" {
			sender = "system"
		}
		content = fmt.Sprintf("[来自 %s 的系统消息] %s", sender, content)
	} else if len(msg.Media) > 0 {
		content += "\n附件文件:\n"
		for _, path := range msg.Media {
			content += "- " + path + "\n"
		}
	}

	return append(messages, providers.Message{Role: "user", Content: content})
}

func (s *TurnService) persist(sessionKey string, msg bus.InboundMessage, content string) {
	now := time.Now()
	s.sessions.AddMessage(sessionKey, sessions.Record{
		Role: "user", Content: msg.Content, Timestamp: now,
	})
	if !IsSilentReply(content) && strings.TrimSpace(content) != "" {
		s.sessions.AddMessage(sessionKey, sessions.Record{
			Role: "assistant", Content: content, Timestamp: now,
		})
	}
	s.sessions.Save(sessionKey)
}

// resolveOrigin finds where the reply should be delivered. System
// messages prefer the metadata origin envelope, then a "channel:chat"
// split of the chat id, then the CLI.
func (s *TurnService) resolveOrigin(msg bus.InboundMessage) (channel, chatID string) {
	if !s.system {
		return msg.Channel, msg.ChatID
	}
	return systemOrigin(msg)
}

// systemOrigin resolves the user-facing delivery target for a
// system-channel message: the metadata origin envelope, then a
// "channel:chat" split of the chat id, then the CLI.
func systemOrigin(msg bus.InboundMessage) (channel, chatID string) {
	if origin, ok := bus.OriginFromMetadata(msg.Metadata); ok {
		return origin.Channel, origin.ChatID
	}
	if i := strings.Index(msg.ChatID, ":"); i > 0 {
		return msg.ChatID[:i], msg.ChatID[i+1:]
	}
	return "cli", msg.ChatID
}
