// Package bus provides the in-process message bus decoupling channels from
// the agent runtime. Two bounded FIFO queues carry inbound (channel→agent)
// and outbound (agent→channel) traffic; a publisher that cannot enqueue
// before its deadline drops the message with a warning rather than blocking
// its own I/O loop.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultQueueSize = 256

	// dispatchTimeout bounds one outbound delivery so a stuck channel
	// cannot stall the dispatcher or starve other channels.
	dispatchTimeout = 60 * time.Second
)

// OutboundHandler delivers one outbound message to a channel.
type OutboundHandler func(ctx context.Context, msg OutboundMessage) error

// MessageBus routes messages between channels and the agent runtime.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string][]OutboundHandler
}

// New creates a message bus with the default queue capacity.
func New() *MessageBus {
	return NewWithSize(defaultQueueSize)
}

// NewWithSize creates a message bus with explicit queue capacity.
func NewWithSize(size int) *MessageBus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &MessageBus{
		inbound:     make(chan InboundMessage, size),
		outbound:    make(chan OutboundMessage, size),
		subscribers: make(map[string][]OutboundHandler),
	}
}

// PublishInbound enqueues an inbound message, waiting at most timeout.
// A full queue at the deadline drops the message with a logged warning;
// the bus never blocks a channel's receive loop indefinitely.
func (b *MessageBus) PublishInbound(msg InboundMessage, timeout time.Duration) bool {
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}
	select {
	case b.inbound <- msg:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return true
	case <-timer.C:
		slog.Warn("bus: inbound queue full, dropping message",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"queue_size", len(b.inbound),
		)
		return false
	}
}

// PublishOutbound enqueues an outbound message, waiting at most timeout.
func (b *MessageBus) PublishOutbound(msg OutboundMessage, timeout time.Duration) bool {
	select {
	case b.outbound <- msg:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b.outbound <- msg:
		return true
	case <-timer.C:
		slog.Warn("bus: outbound queue full, dropping message",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"queue_size", len(b.outbound),
		)
		return false
	}
}

// ConsumeInbound blocks until an inbound message is available or the
// context is cancelled. The second return is false on cancellation.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// Subscribe registers a delivery handler for a channel name. Multiple
// handlers per channel are allowed; each outbound message is dispatched to
// all of them.
func (b *MessageBus) Subscribe(channel string, handler OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], handler)
}

// Dispatch consumes the outbound queue until ctx is cancelled, spawning
// each delivery as an independent goroutine with a hard per-dispatch
// timeout. A slow or broken channel therefore cannot delay deliveries to
// other channels.
func (b *MessageBus) Dispatch(ctx context.Context) {
	slog.Info("bus: outbound dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("bus: outbound dispatcher stopped")
			return
		case msg := <-b.outbound:
			b.mu.RLock()
			handlers := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if len(handlers) == 0 {
				slog.Warn("bus: no subscriber for outbound channel", "channel", msg.Channel)
				continue
			}
			for _, h := range handlers {
				go func(h OutboundHandler, msg OutboundMessage) {
					dctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
					defer cancel()
					if err := h(dctx, msg); err != nil {
						slog.Error("bus: outbound dispatch failed",
							"channel", msg.Channel,
							"chat_id", msg.ChatID,
							"error", err,
						)
					}
				}(h, msg)
			}
		}
	}
}

// InboundSize returns the number of queued inbound messages.
func (b *MessageBus) InboundSize() int { return len(b.inbound) }

// OutboundSize returns the number of queued outbound messages.
func (b *MessageBus) OutboundSize() int { return len(b.outbound) }
