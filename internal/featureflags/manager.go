// Package featureflags evaluates on/off and percentage rollout flags.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flags read by the story and follow services.
const (
	StoryLikeNotifications = "story_like_notifications"
	StoryFanout            = "story_fanout"
	FollowNotifications    = "follow_notifications"
)

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "story_fanout=on,story_like_notifications=25%,follow_notifications=off"
type Manager struct {
	flags map[string]string
}

// fileFormat is the on-disk layout of FEATURE_FLAGS_FILE.
type fileFormat struct {
	Flags map[string]string `yaml:"flags"`
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
		set(out, parts[0], parts[1])
	}

	return &Manager{flags: out}
}

// Load builds a manager from an optional YAML file and the inline flag string.
// Inline values win over file values with the same name.
func Load(path, raw string) (*Manager, error) {
	m := NewManager("")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read feature flags file: %w", err)
		}
		var f fileFormat
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse feature flags file: %w", err)
		}
		for k, v := range f.Flags {
			set(m.flags, k, v)
		}
	}
	for k, v := range NewManager(raw).flags {
		m.flags[k] = v
	}
	return m, nil
}

func set(flags map[string]string, key, value string) {
	key, value = normalize(key), normalize(value)
	if key == "" || value == "" {
		return
	}
	flags[key] = value
}

// Enabled returns whether a flag is enabled for a given user.
// Supported values:
// - on/true/1
// - off/false/0
// - N% (deterministic user rollout, e.g. 25%)
func (m *Manager) Enabled(name string, userID uint) bool {
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

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if userID == 0 {
		return false
	}
	return rolloutBucket(name, userID) < pct
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), userID)))
	return int(h.Sum32() % 100)
}
