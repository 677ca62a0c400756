package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type settingKind uint8

const (
	settingUnset settingKind = iota
	settingBool
	settingInt
)

// Setting is a parallelism setting as written by a user on a group, a
// simulation or a single "ask": unset, a boolean, or an explicit integer.
// The zero value is unset.
type Setting struct {
	kind settingKind
	b    bool
	n    int
}

// Unset returns a setting that defers to the configured defaults.
func Unset() Setting { return Setting{} }

// Bool returns a boolean setting.
func Bool(b bool) Setting { return Setting{kind: settingBool, b: b} }

// Int returns an explicit integer setting. Negative values are kept as given.
func Int(n int) Setting { return Setting{kind: settingInt, n: n} }

// IsUnset reports whether the setting defers to the configured defaults.
func (s Setting) IsUnset() bool { return s.kind == settingUnset }

// BoolValue returns the boolean and whether the setting is a boolean.
func (s Setting) BoolValue() (bool, bool) { return s.b, s.kind == settingBool }

// IntValue returns the integer and whether the setting is an integer.
func (s Setting) IntValue() (int, bool) { return s.n, s.kind == settingInt }

func (s Setting) String() string {
	switch s.kind {
	case settingBool:
		return strconv.FormatBool(s.b)
	case settingInt:
		return strconv.Itoa(s.n)
	default:
		return ""
	}
}

// ParseSetting accepts "", "true"/"false" (and yes/no/on/off), or an integer.
func ParseSetting(raw string) (Setting, error) {
	v := strings.TrimSpace(strings.ToLower(raw))
	switch v {
	case "", "default", "unset":
		return Unset(), nil
	case "true", "yes", "on":
		return Bool(true), nil
	case "false", "no", "off":
		return Bool(false), nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return Setting{}, fmt.Errorf("invalid parallel setting %q: want true, false or an integer", raw)
	}
	return Int(n), nil
}

// Set implements pflag.Value so a Setting can be bound to a CLI flag.
func (s *Setting) Set(raw string) error {
	parsed, err := ParseSetting(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Type implements pflag.Value.
func (s *Setting) Type() string { return "setting" }

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Setting) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: parallel setting must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*s = Unset()
		return nil
	}
	parsed, err := ParseSetting(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Setting) MarshalYAML() (any, error) {
	switch s.kind {
	case settingBool:
		return s.b, nil
	case settingInt:
		return s.n, nil
	default:
		return nil, nil
	}
}
