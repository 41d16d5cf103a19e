package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/titanous/json5"
)

const envPrefix = "NANOBOT_"

// Load reads the config file, overlays NANOBOT_<SECTION>__<KEY>
// environment variables, and fills remaining fields from defaults. A
// missing file yields pure defaults.
func Load(path string) (*Config, error) {
	raw := make(map[string]any)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(raw, os.Environ())

	cfg := Default()
	merged, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}
	if err := json.Unmarshal(merged, cfg); err != nil {
		return nil, fmt.Errorf("apply config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides binds NANOBOT_<SECTION>__<KEY> variables onto the
// raw document. Double underscores separate nesting levels; segments
// are lowercased. Values parse as JSON when possible, else as strings.
func applyEnvOverrides(raw map[string]any, environ []string) {
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, value := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, envPrefix) || key == "NANOBOT_HOME" {
			continue
		}
		rest := strings.TrimPrefix(key, envPrefix)
		if !strings.Contains(rest, "__") {
			continue
		}
		segments := strings.Split(strings.ToLower(rest), "__")
		setPath(raw, segments, parseScalar(value))
	}
}

// parseScalar interprets an override value: valid JSON literals become
// typed values, everything else stays a string.
func parseScalar(value string) any {
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		switch parsed.(type) {
		case float64, bool, nil, []any, map[string]any:
			return parsed
		}
	}
	return value
}

// setPath writes value at the dotted path, creating intermediate maps.
func setPath(raw map[string]any, segments []string, value any) {
	cur := raw
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segments[len(segments)-1]] = value
}

// Set updates one dotted-path key in the config file and rewrites it.
func Set(path, dotted, value string) error {
	raw := make(map[string]any)
	if data, err := os.ReadFile(path); err == nil {
		if err := json5.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read config: %w", err)
	}

	segments := strings.Split(dotted, ".")
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("invalid config path %q", dotted)
		}
	}
	setPath(raw, segments, parseScalar(value))

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// sensitiveKeyFragments marks keys whose values are masked in listings.
var sensitiveKeyFragments = []string{"key", "token", "secret", "password"}

// MaskedJSON renders the effective config as indented JSON with
// sensitive values replaced by "***".
func MaskedJSON(cfg *Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", err
	}
	maskSensitive(doc)
	masked, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(masked), nil
}

func maskSensitive(doc map[string]any) {
	for key, value := range doc {
		switch v := value.(type) {
		case map[string]any:
			maskSensitive(v)
		case string:
			if v != "" && isSensitiveKey(key) {
				doc[key] = "***"
			}
		}
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Check validates the loaded config, returning one error per problem.
func (c *Config) Check() []error {
	var errs []error
	if _, err := time.LoadLocation(c.Brain.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("brain.timezone: %w", err))
	}
	if c.Providers.Primary.APIKey != "" && c.Providers.Primary.APIBase == "" {
		errs = append(errs, fmt.Errorf("providers.primary.api_base required when api_key is set"))
	}
	if c.Providers.Primary.Model == "" && c.Providers.Primary.APIKey != "" {
		errs = append(errs, fmt.Errorf("providers.primary.model is empty"))
	}
	for i, fb := range c.Providers.Fallbacks {
		if fb.APIBase == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks[%d].api_base is empty", i))
		}
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		errs = append(errs, fmt.Errorf("channels.telegram enabled without token"))
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("channels.discord enabled without token"))
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port))
	}
	return errs
}

// Save writes the config as indented JSON.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
