package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanobot/internal/agent"
	"github.com/nextlevelbuilder/nanobot/internal/audit"
	"github.com/nextlevelbuilder/nanobot/internal/bus"
	"github.com/nextlevelbuilder/nanobot/internal/channels"
	clichannel "github.com/nextlevelbuilder/nanobot/internal/channels/cli"
	"github.com/nextlevelbuilder/nanobot/internal/channels/discord"
	"github.com/nextlevelbuilder/nanobot/internal/channels/telegram"
	"github.com/nextlevelbuilder/nanobot/internal/config"
	"github.com/nextlevelbuilder/nanobot/internal/cron"
	"github.com/nextlevelbuilder/nanobot/internal/daemon"
	"github.com/nextlevelbuilder/nanobot/internal/hooks"
	"github.com/nextlevelbuilder/nanobot/internal/incident"
	"github.com/nextlevelbuilder/nanobot/internal/logging"
	"github.com/nextlevelbuilder/nanobot/internal/memory"
	"github.com/nextlevelbuilder/nanobot/internal/prompt"
	"github.com/nextlevelbuilder/nanobot/internal/providers"
	"github.com/nextlevelbuilder/nanobot/internal/scheduler"
	"github.com/nextlevelbuilder/nanobot/internal/sessions"
	"github.com/nextlevelbuilder/nanobot/internal/skills"
	"github.com/nextlevelbuilder/nanobot/internal/tools"
	"github.com/nextlevelbuilder/nanobot/internal/tools/builtin"
)

func gatewayCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Start the agent gateway process",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runGateway(port); err != nil {
				fail("%v", err)
			}
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override gateway.port")
	return cmd
}

func runGateway(port int) error {
	home := config.Home()
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Gateway.Port = port
	}

	closer, err := logging.Setup(verbose || cfg.Gateway.Verbose, filepath.Join(home, "gateway.log"))
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	if err := daemon.Acquire(pidPath()); err != nil {
		return err
	}
	defer daemon.Release(pidPath())

	workspace := cfg.WorkspacePath()
	for _, dir := range []string{workspace, filepath.Join(workspace, "memory"), filepath.Join(workspace, "skills")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("prepare workspace: %w", err)
		}
	}

	msgBus := bus.New()
	queue := scheduler.New()
	sess := sessions.NewManager(filepath.Join(home, "sessions"))
	memStore := memory.NewStore(filepath.Join(workspace, "memory"))
	skillLib := skills.NewLibrary(filepath.Join(workspace, "skills"))
	builder := prompt.NewBuilder(workspace, memStore, skillLib)
	defer builder.Close()

	auditLog := audit.NewLogger(filepath.Join(home, "audit.log"))
	incidents := incident.NewManager(filepath.Join(home, "runtime", "failures.json"),
		incident.WithDecisionCallback(escalationNotifier(msgBus, cfg.Incident)))

	// The loop is wired last; router pulses and cron callbacks bind to it
	// through these closures.
	var loop *agent.Loop

	primary := providers.NewOpenAIProvider(
		cfg.Providers.Primary.Name,
		cfg.Providers.Primary.APIKey,
		cfg.Providers.Primary.APIBase,
		cfg.Providers.Primary.Model,
	)
	registry := providers.NewRegistry()
	for _, fb := range cfg.Providers.Fallbacks {
		registry.Register(providers.ProviderInfo{
			Name:         fb.Name,
			BaseURL:      fb.APIBase,
			APIKey:       fb.APIKey,
			DefaultModel: fb.Model,
			Models:       fb.Models,
		})
	}
	router := providers.NewRouter(primary, cfg.Providers.Primary.Model, registry, func(text string) {
		if loop != nil {
			loop.SendPulse(text)
		}
	})

	cronStore, err := cron.NewStore(filepath.Join(home, "cron", "jobs.json"))
	if err != nil {
		return fmt.Errorf("open cron store: %w", err)
	}
	taskStore, err := cron.NewTaskStore(filepath.Join(home, "tasks.json"))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	cronSvc := cron.NewService(cronStore, cfg.Brain.Timezone, func(job cron.Job) {
		if loop != nil {
			loop.OnCronJob(job)
		}
	})

	hookReg := hooks.NewRegistry()
	toolReg := tools.NewRegistry()
	toolReg.Register(builtin.NewMessageTool(msgBus))
	toolReg.Register(builtin.NewMemorySearchTool(memStore))
	toolReg.Register(builtin.NewCronTool(cronSvc, taskStore))
	executor := tools.NewExecutor(toolReg, tools.NewFailedCallCache(0, 0), hookReg, incidents)

	engine := agent.NewEngine(router, toolReg, executor, tools.NewPolicy(), hookReg, auditLog, agent.EngineConfig{
		MaxIterations:     cfg.Agent.MaxIterations,
		MaxTotalToolCalls: cfg.Agent.MaxTotalToolCalls,
		MaxPerToolCalls:   cfg.Agent.MaxPerToolCalls,
		MaxTurnSeconds:    cfg.Agent.MaxTurnSeconds,
	})
	userSvc := agent.NewUserTurnService(engine, sess, builder, toolReg, cfg.Brain.UserTitle, cfg.Agent.ParallelToolExec)
	systemSvc := agent.NewSystemTurnService(engine, sess, builder, toolReg, cfg.Brain.UserTitle)

	loop = agent.NewLoop(msgBus, queue, sess, userSvc, systemSvc, cronSvc, incidents, agent.LoopConfig{
		BusyNoticeThreshold: cfg.Agent.BusyNoticeThreshold,
		BusyNoticeDebounce:  time.Duration(cfg.Agent.BusyNoticeDebounceSeconds) * time.Second,
		HeartbeatInterval:   time.Duration(cfg.Agent.HeartbeatMinutes) * time.Minute,
		Workspace:           workspace,
		Audit:               auditLog,
		Tasks:               taskStore,
	})

	manager := channels.NewManager(msgBus)
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(telegram.Config{
			Token:          cfg.Channels.Telegram.Token,
			AllowFrom:      cfg.Channels.Telegram.AllowFrom,
			SendsPerMinute: cfg.Channels.Telegram.SendsPerMinute,
		}, msgBus)
		if err != nil {
			return err
		}
		manager.Register(ch)
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(discord.Config{
			Token:          cfg.Channels.Discord.Token,
			AllowFrom:      cfg.Channels.Discord.AllowFrom,
			SendsPerMinute: cfg.Channels.Discord.SendsPerMinute,
		}, msgBus)
		if err != nil {
			return err
		}
		manager.Register(ch)
	}
	if cfg.Channels.CLI.Enabled {
		manager.Register(clichannel.New(msgBus))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.StartAll(ctx); err != nil {
		return err
	}
	slog.Info("gateway started",
		"home", home,
		"workspace", workspace,
		"model", cfg.Providers.Primary.Model,
		"channels", manager.Names(),
		"pid", os.Getpid(),
	)

	loop.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.StopAll(shutdownCtx)
	queue.Shutdown()
	slog.Info("gateway stopped")
	return nil
}

// escalationNotifier routes escalated incidents to the reporting origin
// when known, else to the configured fallback target.
func escalationNotifier(msgBus *bus.MessageBus, cfg config.IncidentConfig) incident.DecisionFunc {
	return func(event incident.FailureEvent, decision incident.Decision) {
		if !decision.ShouldNotify {
			return
		}
		channel, chatID := cfg.FallbackChannel, cfg.FallbackChatID
		if rc, ok := event.Details["runtime_context"].(map[string]any); ok {
			if v, _ := rc["channel"].(string); v != "" && v != "system" {
				channel = v
				chatID, _ = rc["chat_id"].(string)
			}
		}
		if channel == "" {
			return
		}
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Content: fmt.Sprintf("系统提示：%s 连续出现 %d 次故障（%s），请关注。", event.Source, decision.Count, event.Category),
		}, 5*time.Second)
	}
}
