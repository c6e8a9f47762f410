package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const (
	includeKey      = "$include"
	maxIncludeDepth = 8
)

// ${NAME}, ${NAME:-default} or ${NAME:?hint}
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// MissingEnvError reports ${NAME:?hint} references whose variable is unset
// or empty. Bot tokens and API keys are written this way so a missing secret
// fails the load instead of decoding as an empty string.
type MissingEnvError struct {
	Names []string
	Hints []string
}

func (e *MissingEnvError) Error() string {
	parts := make([]string, len(e.Names))
	for i, name := range e.Names {
		parts[i] = name
		if hint := e.Hints[i]; hint != "" {
			parts[i] += " (" + hint + ")"
		}
	}
	return "required environment variables not set: " + strings.Join(parts, ", ")
}

// expandEnv replaces environment references in data. Bare $VAR is left
// alone so keys such as $include survive. Required references that cannot
// be resolved are returned as a *MissingEnvError after the whole input has
// been scanned.
func expandEnv(data string) (string, error) {
	missing := &MissingEnvError{}
	out := envRef.ReplaceAllStringFunc(data, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if value := os.Getenv(m[1]); value != "" {
			return value
		}
		if m[2] == ":?" {
			if !slices.Contains(missing.Names, m[1]) {
				missing.Names = append(missing.Names, m[1])
				missing.Hints = append(missing.Hints, strings.TrimSpace(m[3]))
			}
			return ""
		}
		return m[3]
	})
	if len(missing.Names) > 0 {
		return "", missing
	}
	return out, nil
}

// LoadRaw reads a configuration file into a merged raw map. Files named by
// $include are loaded first and the including file is merged over them.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return (&loader{}).load(path)
}

// loader walks one include tree. chain holds the absolute paths from the
// root file down to the file being read.
type loader struct {
	chain []string
}

func (l *loader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if slices.Contains(l.chain, abs) {
		return nil, l.wrap(fmt.Errorf("include cycle back to %s", filepath.Base(abs)))
	}
	if len(l.chain) >= maxIncludeDepth {
		return nil, l.wrap(fmt.Errorf("includes nested deeper than %d files", maxIncludeDepth))
	}
	l.chain = append(l.chain, abs)
	defer func() { l.chain = l.chain[:len(l.chain)-1] }()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, l.wrap(err)
	}
	expanded, err := expandEnv(string(data))
	if err != nil {
		return nil, l.wrap(err)
	}
	raw, err := decodeFile(abs, []byte(expanded))
	if err != nil {
		return nil, l.wrap(err)
	}
	includes, err := takeIncludes(raw, filepath.Dir(abs))
	if err != nil {
		return nil, l.wrap(err)
	}

	merged := map[string]any{}
	for _, inc := range includes {
		sub, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		mergeInto(merged, sub)
	}
	mergeInto(merged, raw)
	return merged, nil
}

// wrap prefixes err with the include trail, e.g. "teller.yaml -> base.yaml: ...".
func (l *loader) wrap(err error) error {
	names := make([]string, len(l.chain))
	for i, p := range l.chain {
		names[i] = filepath.Base(p)
	}
	if len(names) == 0 {
		return err
	}
	return fmt.Errorf("%s: %w", strings.Join(names, " -> "), err)
}

func decodeFile(path string, data []byte) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("expected a single YAML document")
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// takeIncludes removes the $include key from raw and returns its entries as
// paths resolved against dir.
func takeIncludes(raw map[string]any, dir string) ([]string, error) {
	value, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)

	var entries []string
	switch typed := value.(type) {
	case nil:
	case string:
		entries = []string{typed}
	case []any:
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings, got %T", includeKey, entry)
			}
			entries = append(entries, s)
		}
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", includeKey)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !filepath.IsAbs(entry) {
			entry = filepath.Join(dir, entry)
		}
		paths = append(paths, entry)
	}
	return paths, nil
}

// mergeInto merges src over dst. Nested maps merge key by key; any other
// value, lists included, replaces what dst held.
func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		sub, isMap := value.(map[string]any)
		existing, hadMap := dst[key].(map[string]any)
		if isMap && hadMap {
			mergeInto(existing, sub)
			continue
		}
		dst[key] = value
	}
}

// decodeRawConfig decodes the merged map into Config, rejecting unknown
// fields.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
