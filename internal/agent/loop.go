package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanobot/internal/audit"
	"github.com/nextlevelbuilder/nanobot/internal/bus"
	"github.com/nextlevelbuilder/nanobot/internal/cron"
	"github.com/nextlevelbuilder/nanobot/internal/incident"
	"github.com/nextlevelbuilder/nanobot/internal/scheduler"
	"github.com/nextlevelbuilder/nanobot/internal/sessions"
)

const (
	// busyNotice is sent when the main lane is backed up.
	busyNotice = "老板，我正在全力处理您之前的指令，请稍等片刻，处理完马上响应您~"

	defaultBusyThreshold = 2
	defaultBusyDebounce  = 60 * time.Second

	// newTopicCommand resets the conversation when sent verbatim.
	newTopicCommand = "新话题"

	// inboundDedupeTTL suppresses exact duplicate messages arriving in
	// rapid succession (webhook retries, double taps).
	inboundDedupeTTL = 5 * time.Second

	defaultHeartbeatInterval = 30 * time.Minute
	heartbeatFile            = "HEARTBEAT.md"
)

// LoopConfig carries the loop's tunables; zero values select defaults.
type LoopConfig struct {
	BusyNoticeThreshold int
	BusyNoticeDebounce  time.Duration
	HeartbeatInterval   time.Duration
	Workspace           string
	Audit               *audit.Logger
	Tasks               *cron.TaskStore
}

// Loop is the composition root: it consumes inbound messages, routes
// them to lanes, runs turn services, and feeds cron and heartbeat
// results back through the same pipeline.
type Loop struct {
	bus       *bus.MessageBus
	queue     *scheduler.Scheduler
	sessions  *sessions.Manager
	userSvc   *TurnService
	systemSvc *TurnService
	cron      *cron.Service
	incidents *incident.Manager
	audit     *audit.Logger
	tasks     *cron.TaskStore

	busyThreshold int
	busyDebounce  time.Duration
	heartbeatIntv time.Duration
	workspace     string

	mu             sync.Mutex
	lastBusyNotice time.Time
	lastOrigin     bus.Origin
	recentInbound  map[string]time.Time
}

func NewLoop(b *bus.MessageBus, queue *scheduler.Scheduler, sess *sessions.Manager,
	userSvc, systemSvc *TurnService, cronSvc *cron.Service, incidents *incident.Manager, cfg LoopConfig) *Loop {

	if cfg.BusyNoticeThreshold <= 0 {
		cfg.BusyNoticeThreshold = defaultBusyThreshold
	}
	if cfg.BusyNoticeDebounce <= 0 {
		cfg.BusyNoticeDebounce = defaultBusyDebounce
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Loop{
		bus:           b,
		queue:         queue,
		sessions:      sess,
		userSvc:       userSvc,
		systemSvc:     systemSvc,
		cron:          cronSvc,
		incidents:     incidents,
		audit:         cfg.Audit,
		tasks:         cfg.Tasks,
		busyThreshold: cfg.BusyNoticeThreshold,
		busyDebounce:  cfg.BusyNoticeDebounce,
		heartbeatIntv: cfg.HeartbeatInterval,
		workspace:     cfg.Workspace,
		recentInbound: make(map[string]time.Time),
	}
}

// Run consumes inbound messages until the context is cancelled. The
// bus dispatcher, cron ticker, and heartbeat run as siblings.
func (l *Loop) Run(ctx context.Context) {
	go l.bus.Dispatch(ctx)
	if l.cron != nil {
		go l.cron.Run(ctx)
	}
	go l.runHeartbeat(ctx)

	slog.Info("agent loop started")
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("agent loop stopping")
			return
		}
		l.handleInbound(ctx, msg)
	}
}

func (l *Loop) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	if l.isDuplicate(msg) {
		slog.Debug("dropping duplicate inbound", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}

	if msg.Channel != "system" {
		l.mu.Lock()
		l.lastOrigin = bus.Origin{Channel: msg.Channel, ChatID: msg.ChatID}
		l.mu.Unlock()

		if l.handleCommand(msg) {
			return
		}
	}

	lane := scheduler.LaneMain
	svc := l.userSvc
	if msg.Channel == "system" {
		lane = scheduler.LaneBackground
		svc = l.systemSvc
	}

	if lane == scheduler.LaneMain {
		l.maybeSendBusyNotice(msg)
	}

	taskName := fmt.Sprintf("%s:%s", msg.Channel, msg.TraceID)
	l.queue.Enqueue(ctx, lane, taskName, func(taskCtx context.Context) (any, error) {
		l.runTask(taskCtx, svc, msg)
		return nil, nil
	})
}

// runTask executes one turn, converting panics and errors into an
// apologetic outbound to the origin.
func (l *Loop) runTask(ctx context.Context, svc *TurnService, msg bus.InboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("turn panicked", "trace_id", msg.TraceID, "panic", rec)
			l.reportFailure("turn_panic", fmt.Sprint(rec), msg)
			l.apologize(msg)
		}
	}()

	out, err := svc.Process(ctx, msg)
	if err != nil {
		slog.Error("turn failed", "trace_id", msg.TraceID, "error", err)
		l.reportFailure("turn_error", err.Error(), msg)
		l.apologize(msg)
		return
	}
	if out != nil {
		l.bus.PublishOutbound(*out, 5*time.Second)
	}
}

// handleCommand intercepts conversation-control commands before they
// reach the model. Returns true when the message was consumed.
func (l *Loop) handleCommand(msg bus.InboundMessage) bool {
	trimmed := strings.TrimSpace(msg.Content)
	if trimmed != newTopicCommand && trimmed != "/clear" {
		return false
	}

	key := msg.SessionKey()
	reply := "已为您开启新话题，之前的对话记录已归档。"
	var err error
	if trimmed == "/clear" {
		err = l.sessions.Delete(key)
		reply = "会话已清空。"
	} else {
		err = l.sessions.Rotate(key)
	}
	if err != nil {
		slog.Warn("session reset failed", "session", key, "error", err)
		reply = "操作失败，请稍后再试。"
	}
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel, ChatID: msg.ChatID, Content: reply, TraceID: msg.TraceID,
	}, 5*time.Second)
	return true
}

func (l *Loop) maybeSendBusyNotice(msg bus.InboundMessage) {
	state := l.queue.State(scheduler.LaneMain)
	if state.Active+state.QueueLength < l.busyThreshold {
		return
	}

	l.mu.Lock()
	if time.Since(l.lastBusyNotice) < l.busyDebounce {
		l.mu.Unlock()
		return
	}
	l.lastBusyNotice = time.Now()
	l.mu.Unlock()

	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel, ChatID: msg.ChatID, Content: busyNotice, TraceID: msg.TraceID,
	}, 2*time.Second)
}

// ProcessDirect runs content through the pipeline synchronously,
// bypassing the bus. Used by the CLI and by cron task_run payloads.
func (l *Loop) ProcessDirect(ctx context.Context, content, sessionKey, channel, chatID, lane string) (string, error) {
	msg := bus.InboundMessage{
		Channel:            channel,
		ChatID:             chatID,
		Content:            content,
		SessionKeyOverride: sessionKey,
	}
	if msg.Channel == "" {
		msg.Channel = "cli"
	}
	if msg.ChatID == "" {
		msg.ChatID = "direct"
	}
	if lane == "" {
		lane = scheduler.LaneMain
	}
	svc := l.userSvc
	if msg.Channel == "system" {
		svc = l.systemSvc
	}

	outcome := <-l.queue.Enqueue(ctx, lane, "direct:"+msg.Channel, func(taskCtx context.Context) (any, error) {
		out, err := svc.Process(taskCtx, msg)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return "", nil
		}
		return out.Content, nil
	})
	if outcome.Err != nil {
		return "", outcome.Err
	}
	content, _ = outcome.Result.(string)
	return content, nil
}

// SendPulse delivers a short informative line to the most recent user
// origin. Used by the provider router during failover.
func (l *Loop) SendPulse(text string) {
	l.mu.Lock()
	origin := l.lastOrigin
	l.mu.Unlock()
	if origin.Channel == "" {
		return
	}
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel: origin.Channel, ChatID: origin.ChatID, Content: text,
	}, 2*time.Second)
}

// OnCronJob is the cron service callback: message payloads with
// deliver=true go straight out; everything else is processed as a
// system message on the background lane.
func (l *Loop) OnCronJob(job cron.Job) {
	switch {
	case job.Payload.Kind == "message" && job.Payload.Deliver:
		channel, to := job.Payload.Channel, job.Payload.To
		if channel == "" {
			l.mu.Lock()
			channel, to = l.lastOrigin.Channel, l.lastOrigin.ChatID
			l.mu.Unlock()
		}
		if channel == "" {
			slog.Warn("cron: no delivery target for job", "job", job.ID)
			return
		}
		l.bus.PublishOutbound(bus.OutboundMessage{
			Channel: channel, ChatID: to, Content: job.Payload.Message,
		}, 5*time.Second)
	default:
		content := job.Payload.Message
		if job.Payload.Kind == "task_run" {
			content = l.resolveTask(job.Payload.TaskName)
			if content == "" {
				slog.Warn("cron: unknown task", "job", job.ID, "task", job.Payload.TaskName)
				l.audit.Log(audit.Event{Type: audit.TypeCronError, JobID: job.ID, Detail: "unknown task: " + job.Payload.TaskName})
				return
			}
		}
		sessionKey := "cron:" + job.ID
		l.audit.Log(audit.Event{Type: audit.TypeCronStart, JobID: job.ID})
		start := time.Now()
		if _, err := l.ProcessDirect(context.Background(), content, sessionKey, "system", "cron:"+job.ID, scheduler.LaneBackground); err != nil {
			slog.Warn("cron: task processing failed", "job", job.ID, "error", err)
			l.audit.Log(audit.Event{Type: audit.TypeCronError, JobID: job.ID, Detail: err.Error()})
			return
		}
		l.audit.Log(audit.Event{Type: audit.TypeCronComplete, JobID: job.ID, DurationS: time.Since(start).Seconds()})
	}
}

// resolveTask looks up a named task's prompt and records the run.
func (l *Loop) resolveTask(name string) string {
	if l.tasks == nil || name == "" {
		return ""
	}
	task, ok := l.tasks.Get(name)
	if !ok {
		return ""
	}
	l.tasks.MarkRun(name)
	return task.Prompt
}

// runHeartbeat periodically feeds HEARTBEAT.md through the background
// lane so the assistant can act on standing instructions.
func (l *Loop) runHeartbeat(ctx context.Context) {
	if l.workspace == "" {
		return
	}
	ticker := time.NewTicker(l.heartbeatIntv)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := os.ReadFile(filepath.Join(l.workspace, heartbeatFile))
			if err != nil || strings.TrimSpace(string(data)) == "" {
				continue
			}
			l.audit.Log(audit.Event{Type: audit.TypeHeartbeatStart})
			start := time.Now()
			if _, err := l.ProcessDirect(ctx, string(data), "system:heartbeat", "system", "heartbeat", scheduler.LaneBackground); err != nil {
				slog.Warn("heartbeat processing failed", "error", err)
				l.audit.Log(audit.Event{Type: audit.TypeHeartbeatError, Detail: err.Error()})
				continue
			}
			l.audit.Log(audit.Event{Type: audit.TypeHeartbeatComplete, DurationS: time.Since(start).Seconds()})
		}
	}
}

func (l *Loop) isDuplicate(msg bus.InboundMessage) bool {
	sum := sha256.Sum256([]byte(msg.Channel + "|" + msg.SenderID + "|" + msg.ChatID + "|" + msg.Content))
	key := hex.EncodeToString(sum[:8])

	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for k, ts := range l.recentInbound {
		if now.Sub(ts) > inboundDedupeTTL {
			delete(l.recentInbound, k)
		}
	}
	if _, ok := l.recentInbound[key]; ok {
		return true
	}
	l.recentInbound[key] = now
	return false
}

func (l *Loop) apologize(msg bus.InboundMessage) {
	channel, chatID := msg.Channel, msg.ChatID
	if channel == "system" {
		channel, chatID = systemOrigin(msg)
	}
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: "抱歉，处理您的消息时出了点问题，我已经记录下来了，请稍后再试。",
		TraceID: msg.TraceID,
	}, 5*time.Second)
}

func (l *Loop) reportFailure(category, detail string, msg bus.InboundMessage) {
	if l.incidents == nil {
		return
	}
	l.incidents.Report(incident.FailureEvent{
		Source:   "agent_loop",
		Category: category,
		Summary:  detail,
		Details: map[string]any{
			"reason": category,
			"runtime_context": map[string]any{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
			},
		},
		Severity: incident.SeverityError,
	})
}
