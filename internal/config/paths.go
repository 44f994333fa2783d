package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Paths are the on-disk locations under the smsforms home directory.
type Paths struct {
	Base     string // ~/.smsforms
	Config   string // ~/.smsforms/config.yaml
	Data     string // ~/.smsforms/data
	Logs     string // ~/.smsforms/logs
	Database string // ~/.smsforms/data/smsforms.db
}

// ResolvePaths lays out Paths under $SMSFORMS_HOME, or ~/.smsforms when
// the variable is unset.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("SMSFORMS_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, ".smsforms")
	}

	data := filepath.Join(base, "data")
	return Paths{
		Base:     base,
		Config:   filepath.Join(base, "config.yaml"),
		Data:     data,
		Logs:     filepath.Join(base, "logs"),
		Database: filepath.Join(data, "smsforms.db"),
	}, nil
}

// EnsureDirs creates the home, data and log directories.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// ParseConfigPath splits a dotted key such as "channels.sms.from" or
// "triggers.0.keyword" into segments.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		switch {
		case p == "":
			return nil, &ConfigError{Message: "config path contains empty segment"}
		case strings.ContainsAny(p, " \t\n"):
			return nil, &ConfigError{Message: "config path segment contains whitespace: " + strconv.Quote(p)}
		}
	}
	return parts, nil
}

// child steps one segment into a map key or a list index.
func child(node any, key string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		return v, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(n) {
			return nil, false
		}
		return n[i], true
	}
	return nil, false
}

// GetValueAtPath walks maps and lists along path.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var node any = root
	for _, key := range path {
		next, ok := child(node, key)
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

// SetValueAtPath stores value at path. Missing or scalar intermediate
// nodes are replaced by maps; an existing list element can be overwritten
// by index.
func SetValueAtPath(root map[string]any, path []string, value any) {
	last := len(path) - 1
	node := root
	for i, key := range path[:last] {
		if list, ok := node[key].([]any); ok {
			if idx, err := strconv.Atoi(path[i+1]); err == nil && idx >= 0 && idx < len(list) {
				if i+1 == last {
					list[idx] = value
					return
				}
				if m, ok := list[idx].(map[string]any); ok {
					SetValueAtPath(m, path[i+2:], value)
					return
				}
			}
		}
		m, ok := node[key].(map[string]any)
		if !ok {
			m = map[string]any{}
			node[key] = m
		}
		node = m
	}
	node[path[last]] = value
}

// UnsetValueAtPath deletes the map entry at path and reports whether it
// existed. List elements cannot be removed this way.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	parent, ok := GetValueAtPath(root, path[:len(path)-1])
	if !ok {
		return false
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := m[path[len(path)-1]]; !ok {
		return false
	}
	delete(m, path[len(path)-1])
	return true
}
