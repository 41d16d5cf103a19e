package providers

import (
	"sync"
	"time"
)

// ProviderInfo is the registry's view of one configured endpoint.
type ProviderInfo struct {
	Name            string   `json:"name"`
	BaseURL         string   `json:"base_url"`
	APIKey          string   `json:"api_key"`
	DefaultModel    string   `json:"default_model"`
	Models          []string `json:"models,omitempty"`
	IsFree          bool     `json:"is_free,omitempty"`
	Balance         float64  `json:"balance,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	Error           string   `json:"error,omitempty"`
	CooldownUntilMS int64    `json:"cooldown_until_ms,omitempty"`

	consecutiveFailures int
}

// Registry tracks alternate providers and their cooldown state.
type Registry struct {
	mu        sync.Mutex
	providers []*ProviderInfo
	now       func() time.Time
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

// Register adds a provider to the rotation.
func (r *Registry) Register(info ProviderInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, &info)
}

// Active returns providers eligible for the given model: not cooling
// down, and either listing the model or accepting any (empty Models).
func (r *Registry) Active(model string) []ProviderInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	nowMS := r.now().UnixMilli()
	var out []ProviderInfo
	for _, p := range r.providers {
		if p.CooldownUntilMS > nowMS {
			continue
		}
		if model != "" && len(p.Models) > 0 && !contains(p.Models, model) {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// cooldown backoff schedule: grows with consecutive failures.
var backoffSteps = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
}

// MarkFailed records a failure, putting the provider on a cooldown that
// grows with consecutive failures.
func (r *Registry) MarkFailed(name string, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.providers {
		if p.Name != name {
			continue
		}
		step := p.consecutiveFailures
		if step >= len(backoffSteps) {
			step = len(backoffSteps) - 1
		}
		p.consecutiveFailures++
		p.Error = errText
		p.CooldownUntilMS = r.now().Add(backoffSteps[step]).UnixMilli()
		return
	}
}

// MarkHealthy clears failure state after a successful call.
func (r *Registry) MarkHealthy(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.providers {
		if p.Name == name {
			p.consecutiveFailures = 0
			p.Error = ""
			p.CooldownUntilMS = 0
			return
		}
	}
}

// List returns a snapshot of every registered provider.
func (r *Registry) List() []ProviderInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProviderInfo, len(r.providers))
	for i, p := range r.providers {
		out[i] = *p
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
