// Package config loads the rampfire run configuration from a JSON or YAML file
// and command-line flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// settings is a config document as viper hands it over: keys lowercased,
// values typed by whichever decoder read the file. Every reader takes the
// display name used in errors followed by the accepted keys in priority
// order, and leaves dst untouched when none of the keys is present.
type settings map[string]interface{}

// newSettings normalizes the keys of a nested section, which viper leaves
// as decoded (map[string]interface{} from JSON, map[interface{}]interface{}
// from some YAML documents).
func newSettings(value interface{}) (settings, error) {
	out := settings{}
	switch v := value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			out[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[interface{}]interface{}:
		for key, val := range v {
			out[strings.ToLower(strings.TrimSpace(fmt.Sprint(key)))] = val
		}
	default:
		return nil, fmt.Errorf("expected a section, got %T", value)
	}
	return out, nil
}

func (s settings) lookup(keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if val, ok := s[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func (s settings) str(dst *string, name string, keys ...string) error {
	raw, ok := s.lookup(keys...)
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case string:
		*dst = strings.TrimSpace(v)
	case bool, int, int64, float64:
		*dst = fmt.Sprint(v)
	default:
		return fmt.Errorf("%s: expected a string, got %T", name, raw)
	}
	return nil
}

func (s settings) integer(dst *int, name string, keys ...string) error {
	raw, ok := s.lookup(keys...)
	if !ok || raw == nil {
		return nil
	}
	n, err := wholeNumber(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = int(n)
	return nil
}

func (s settings) integer64(dst *int64, name string, keys ...string) error {
	raw, ok := s.lookup(keys...)
	if !ok || raw == nil {
		return nil
	}
	n, err := wholeNumber(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

func (s settings) fraction(dst *float64, name string, keys ...string) error {
	raw, ok := s.lookup(keys...)
	if !ok || raw == nil {
		return nil
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		f = parsed
	default:
		return fmt.Errorf("%s: expected a number, got %T", name, raw)
	}
	*dst = f
	return nil
}

func (s settings) flag(dst *bool, name string, keys ...string) error {
	raw, ok := s.lookup(keys...)
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case bool:
		*dst = v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
	default:
		return fmt.Errorf("%s: expected true or false, got %T", name, raw)
	}
	return nil
}

// duration reads a Go duration string ("1m30s") or a bare number of
// milliseconds, the unit of delayBetweenBatchesMs and timeoutMs.
func (s settings) duration(dst *time.Duration, name string, keys ...string) error {
	raw, ok := s.lookup(keys...)
	if !ok || raw == nil {
		return nil
	}
	if text, isText := raw.(string); isText {
		text = strings.TrimSpace(text)
		if d, err := time.ParseDuration(text); err == nil {
			*dst = d
			return nil
		}
		raw = text
	}
	ms, err := wholeNumber(raw)
	if err != nil {
		return fmt.Errorf("%s: want a duration such as \"500ms\" or a number of milliseconds: %w", name, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func (s settings) list(dst *[]string, name string, keys ...string) error {
	raw, ok := s.lookup(keys...)
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case string:
		*dst = []string{strings.TrimSpace(v)}
	case []string:
		*dst = v
	case []interface{}:
		out := make([]string, len(v))
		for i, item := range v {
			text, isText := item.(string)
			if !isText {
				return fmt.Errorf("%s[%d]: expected a string, got %T", name, i, item)
			}
			out[i] = strings.TrimSpace(text)
		}
		*dst = out
	default:
		return fmt.Errorf("%s: expected a list of strings, got %T", name, raw)
	}
	return nil
}

// wholeNumber accepts the numeric types JSON and YAML decoders produce plus
// numeric strings. Fractions are rejected rather than truncated.
func wholeNumber(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%v is not a whole number", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
}
