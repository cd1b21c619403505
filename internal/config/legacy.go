package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Legacy configuration keys, same meaning as the environment variables but lower precedence.
const (
	LegacyKeyAPIKey      = "sendgrid.apikey"
	LegacyKeySenderEmail = "sendgrid.senderemail"
)

// LegacyValues is a two-level key/value store addressed as "<group>.<key>".
type LegacyValues map[string]map[string]string

// Lookup returns the value for a dotted key. Group and key matching is case-insensitive.
func (lv LegacyValues) Lookup(key string) (string, bool) {
	group, name, ok := strings.Cut(strings.ToLower(key), ".")
	if !ok {
		return "", false
	}
	for g, kv := range lv {
		if strings.ToLower(g) != group {
			continue
		}
		for k, v := range kv {
			if strings.ToLower(k) == name && v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// LegacySource supplies the legacy stored configuration.
type LegacySource interface {
	Values() (LegacyValues, error)
}

// LegacyFile reads legacy values from a YAML file shaped like:
//
//	sendgrid:
//	  apikey: SG.xxx
//	  senderemail: noreply@example.com
type LegacyFile struct {
	Path string
}

func NewLegacyFile(path string) *LegacyFile {
	return &LegacyFile{Path: path}
}

// Values parses the file. A missing file yields no values and no error.
func (f *LegacyFile) Values() (LegacyValues, error) {
	if f == nil || f.Path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read legacy config: %w", err)
	}
	return ParseLegacy(raw)
}

// ParseLegacy decodes the YAML representation of legacy values.
func ParseLegacy(raw []byte) (LegacyValues, error) {
	var doc map[string]map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse legacy config: %w", err)
	}
	out := make(LegacyValues, len(doc))
	for group, kv := range doc {
		m := make(map[string]string, len(kv))
		for k, v := range kv {
			if v == nil {
				continue
			}
			m[k] = fmt.Sprint(v)
		}
		out[group] = m
	}
	return out, nil
}

// StaticLegacy is an in-memory LegacySource.
type StaticLegacy LegacyValues

func (s StaticLegacy) Values() (LegacyValues, error) { return LegacyValues(s), nil }
