// Package channels connects external chat transports (Telegram, Discord,
// the local CLI) to the agent runtime via the message bus. Each binding
// only translates between platform events and bus messages; everything
// else lives behind the bus.
package channels

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/nanobot/internal/bus"
)

const publishTimeout = 5 * time.Second

// InternalChannels are never dispatched to a transport; their outbound
// traffic is consumed by the agent loop itself.
var InternalChannels = map[string]bool{
	"system": true,
}

// IsInternalChannel reports whether name is an internal channel.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel is the contract every transport binding satisfies.
type Channel interface {
	// Name returns the channel identifier ("telegram", "discord", "cli").
	Name() string

	// Start begins receiving messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the channel down gracefully.
	Stop(ctx context.Context) error

	// Send delivers one outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively processing.
	IsRunning() bool
}

// BaseChannel carries the shared state of a transport binding: the bus
// handle, an optional sender allowlist, and an outbound rate limiter
// that keeps sends under the platform's flood thresholds.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	running   bool
	allowList []string
	limiter   *rate.Limiter
}

// NewBaseChannel creates a BaseChannel. sendsPerMinute <= 0 disables
// rate limiting.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string, sendsPerMinute int) *BaseChannel {
	var limiter *rate.Limiter
	if sendsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(sendsPerMinute)/60.0), sendsPerMinute)
	}
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
		limiter:   limiter,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning reports whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus handle.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// WaitSend blocks until the outbound rate limiter admits one send.
func (c *BaseChannel) WaitSend(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// IsAllowed reports whether a sender passes the allowlist. An empty
// allowlist admits everyone. Entries match the sender ID exactly or,
// with a leading "@", a username suffix in "id|username" form.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	idPart, userPart := senderID, ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart, userPart = senderID[:idx], senderID[idx+1:]
	}
	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || senderID == trimmed || idPart == trimmed ||
			(userPart != "" && userPart == trimmed) {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound bus message after the allowlist
// check. This is the single entry point transports use for received
// messages.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]any) {
	if !c.IsAllowed(senderID) {
		return
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    media,
		Metadata: metadata,
	}, publishTimeout)
}

// SplitMessage breaks content into chunks of at most maxLen bytes,
// preferring newline boundaries so platform limits do not cut words.
func SplitMessage(content string, maxLen int) []string {
	if len(content) <= maxLen {
		return []string{content}
	}
	var parts []string
	for len(content) > maxLen {
		cut := maxLen
		if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
			cut = idx + 1
		}
		parts = append(parts, strings.TrimRight(content[:cut], "\n"))
		content = content[cut:]
	}
	if content != "" {
		parts = append(parts, content)
	}
	return parts
}
