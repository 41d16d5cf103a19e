package bus

// InboundMessage represents a message received from a channel (Telegram,
// Discord, CLI, or the internal system channel). Immutable once enqueued.
type InboundMessage struct {
	Channel  string         `json:"channel"`
	SenderID string         `json:"sender_id"`
	ChatID   string         `json:"chat_id"`
	Content  string         `json:"content"`
	Media    []string       `json:"media,omitempty"` // local file paths, in order
	Metadata map[string]any `json:"metadata,omitempty"`

	// TraceID correlates audit events across the turn. Assigned by the
	// channel (or the bus on publish when empty).
	TraceID string `json:"trace_id,omitempty"`

	// SessionKeyOverride replaces the derived "{channel}:{chat_id}" key
	// (e.g. "cron:<job_id>" for scheduled runs).
	SessionKeyOverride string `json:"session_key_override,omitempty"`
}

// SessionKey returns the effective session key for this message.
func (m InboundMessage) SessionKey() string {
	if m.SessionKeyOverride != "" {
		return m.SessionKeyOverride
	}
	return m.Channel + ":" + m.ChatID
}

// Origin is the delivery target carried in metadata by system-channel
// messages (cron results, subagent announces).
type Origin struct {
	Channel string
	ChatID  string
}

// OriginFromMetadata extracts an origin envelope from message metadata.
// Accepts Origin values as well as generic map payloads under the
// "origin" key.
func OriginFromMetadata(meta map[string]any) (Origin, bool) {
	raw, ok := meta["origin"]
	if !ok {
		return Origin{}, false
	}
	switch v := raw.(type) {
	case Origin:
		return v, v.Channel != ""
	case map[string]any:
		o := Origin{}
		if s, ok := v["channel"].(string); ok {
			o.Channel = s
		}
		if s, ok := v["chat_id"].(string); ok {
			o.ChatID = s
		}
		return o, o.Channel != ""
	case map[string]string:
		o := Origin{Channel: v["channel"], ChatID: v["chat_id"]}
		return o, o.Channel != ""
	default:
		return Origin{}, false
	}
}

// OutboundMessage represents a message to be delivered to a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	TraceID string `json:"trace_id,omitempty"`
}
