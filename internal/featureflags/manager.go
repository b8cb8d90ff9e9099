// Package featureflags evaluates runtime switches for optional pipeline behavior,
// such as automatic social posting after a publish.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Well-known flags.
const (
	// SocialAutopost dispatches social posts after a successful publish
	// even when the request names no platforms.
	SocialAutopost = "social_autopost"
	// AIDrafts enables AI draft generation.
	AIDrafts = "ai_drafts"
	// AICaptions enables AI-generated social captions.
	AICaptions = "ai_captions"
	// AutopostPlatforms overrides the configured autopost platforms, e.g. "facebook|linkedin".
	AutopostPlatforms = "autopost_platforms"
)

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "social_autopost=25%,ai_drafts=on,autopost_platforms=facebook|linkedin"
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	out := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := normalize(parts[0])
		value := normalize(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled returns whether a flag is enabled for a given school.
// Supported values:
// - on/true/1
// - off/false/0
// - N% (deterministic per-school rollout, e.g. 25%)
func (m *Manager) Enabled(name string, schoolID uint) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	if strings.HasSuffix(value, "%") {
		pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
		if err != nil || pct <= 0 {
			return false
		}
		if pct >= 100 {
			return true
		}
		if schoolID == 0 {
			return false
		}
		return rolloutBucket(name, schoolID) < pct
	}

	return false
}

// EnabledOr returns fallback when the flag is not configured at all.
func (m *Manager) EnabledOr(name string, schoolID uint, fallback bool) bool {
	if m == nil {
		return fallback
	}
	if _, ok := m.flags[normalize(name)]; !ok {
		return fallback
	}
	return m.Enabled(name, schoolID)
}

// List returns a pipe-separated flag value as a slice, e.g. "a|b|c".
func (m *Manager) List(name string) []string {
	if m == nil {
		return nil
	}
	value, ok := m.flags[normalize(name)]
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, "|") {
		if item = normalize(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot returns evaluated flag status for one school.
func (m *Manager) Snapshot(schoolID uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, schoolID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, schoolID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), schoolID)))
	return int(h.Sum32() % 100)
}
