package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// perCallTimeout bounds each candidate attempt.
	perCallTimeout = 45 * time.Second
)

// PulseFunc delivers a short informative message to the active user
// channel while the router works through fallbacks.
type PulseFunc func(text string)

// Router walks a primary provider plus registry fallbacks, marking
// failures with cooldowns. Chat never returns an error: total failure
// yields a synthetic response with FinishReason "error".
type Router struct {
	primary      Provider
	primaryModel string
	registry     *Registry
	pulse        PulseFunc

	// factory builds a Provider from a registry entry; swappable in tests.
	factory func(info ProviderInfo) Provider
}

// NewRouter creates a failover router. pulse may be nil.
func NewRouter(primary Provider, primaryModel string, registry *Registry, pulse PulseFunc) *Router {
	return &Router{
		primary:      primary,
		primaryModel: primaryModel,
		registry:     registry,
		pulse:        pulse,
		factory: func(info ProviderInfo) Provider {
			return NewOpenAIProvider(info.Name, info.APIKey, info.BaseURL, info.DefaultModel)
		},
	}
}

// PrimaryModel returns the model the router targets by default.
func (r *Router) PrimaryModel() string { return r.primaryModel }

type candidate struct {
	provider Provider
	model    string
	name     string
	registry bool
}

// Chat tries the primary then active registry entries in order. Before
// each non-first attempt it emits a pulse so the user knows a fallback
// brain is being tried.
func (r *Router) Chat(ctx context.Context, req ChatRequest) *ChatResponse {
	candidates := r.buildCandidates(req.Model)

	var lastErr string
	for i, c := range candidates {
		if ctx.Err() != nil {
			lastErr = ctx.Err().Error()
			break
		}
		if i > 0 && r.pulse != nil {
			r.pulse(fmt.Sprintf("主模型响应异常，正在尝试备用大脑 (%s)，请稍等...", c.name))
		}

		attemptReq := req
		attemptReq.Model = c.model

		callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
		resp, err := c.provider.Chat(callCtx, attemptReq)
		cancel()

		switch {
		case err != nil:
			lastErr = err.Error()
		case resp == nil:
			lastErr = "empty response"
		case resp.FinishReason == "error":
			lastErr = resp.Content
		default:
			if c.registry {
				r.registry.MarkHealthy(c.name)
			}
			return resp
		}

		slog.Warn("router: provider attempt failed",
			"provider", c.name, "model", c.model, "error", lastErr)
		if c.registry {
			r.registry.MarkFailed(c.name, lastErr)
		}
	}

	if lastErr == "" {
		lastErr = "no providers configured"
	}
	return &ChatResponse{
		Content:      fmt.Sprintf("所有模型均不可用，最后错误: %s", lastErr),
		FinishReason: "error",
	}
}

func (r *Router) buildCandidates(model string) []candidate {
	if model == "" {
		model = r.primaryModel
	}

	var out []candidate
	primaryBase := ""
	primaryDefault := ""
	if r.primary != nil {
		out = append(out, candidate{
			provider: r.primary,
			model:    model,
			name:     r.primary.Name(),
		})
		if oai, ok := r.primary.(*OpenAIProvider); ok {
			primaryBase = oai.apiBase
		}
		primaryDefault = r.primary.DefaultModel()
	}

	if r.registry == nil {
		return out
	}
	for _, info := range r.registry.Active(model) {
		// Skip entries that duplicate the primary endpoint.
		if info.BaseURL == primaryBase && info.DefaultModel == primaryDefault && primaryBase != "" {
			continue
		}
		out = append(out, candidate{
			provider: r.factory(info),
			model:    info.DefaultModel,
			name:     info.Name,
			registry: true,
		})
	}
	return out
}
