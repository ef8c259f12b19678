package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"keel/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Template describes a named strategy preset: which strategy it instantiates
// and a schema constraining the parameters operators may supply.
type Template struct {
	ID          string         `mapstructure:"id" yaml:"id"`
	Description string         `mapstructure:"description" yaml:"description"`
	Strategy    string         `mapstructure:"strategy" yaml:"strategy"`
	Version     int            `mapstructure:"version" yaml:"version"`
	Defaults    map[string]any `mapstructure:"defaults" yaml:"defaults"`
	Schema      map[string]any `mapstructure:"schema" yaml:"schema"`

	schemaCompiled *jsonschema.Schema
}

type templateFile struct {
	Templates map[string]Template `mapstructure:"templates" yaml:"templates"`
}

// TemplateSnapshot is the immutable view handed to callers.
type TemplateSnapshot struct {
	Version   int64
	LoadedAt  time.Time
	Templates map[string]Template
}

// TemplateRegistry loads strategy templates from a yaml file and reloads on
// file change.
type TemplateRegistry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot TemplateSnapshot
}

// NewTemplateRegistry reads the template file and starts watching it.
func NewTemplateRegistry(path string) (*TemplateRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy template registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy templates failed: %w", err)
	}
	r := &TemplateRegistry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("strategy template reload failed: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the current template set.
func (r *TemplateRegistry) Snapshot() TemplateSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneTemplateSnapshot(r.snapshot)
}

// Template returns the template with the given ID.
func (r *TemplateRegistry) Template(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.snapshot.Templates[strings.TrimSpace(id)]
	return tpl, ok
}

// Build validates params against the template schema, merges them over the
// template defaults and returns an initialized strategy.
func (r *TemplateRegistry) Build(id string, params map[string]any) (Strategy, error) {
	tpl, ok := r.Template(id)
	if !ok {
		return nil, fmt.Errorf("unknown strategy template: %s", id)
	}
	if err := tpl.Validate(params); err != nil {
		return nil, fmt.Errorf("template %s params invalid: %w", id, err)
	}
	merged := make(map[string]any, len(tpl.Defaults)+len(params))
	for k, v := range tpl.Defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	s, err := New(tpl.Strategy)
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(merged); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks params against the compiled schema, if any.
func (t Template) Validate(params map[string]any) error {
	if t.schemaCompiled == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	return t.schemaCompiled.Validate(normalizeJSON(params))
}

func (r *TemplateRegistry) reload() error {
	cfg, err := readTemplateFile(r.path)
	if err != nil {
		return err
	}
	templates := make(map[string]Template)
	for name, tpl := range cfg.Templates {
		norm, err := normalizeTemplate(name, tpl)
		if err != nil {
			return err
		}
		templates[norm.ID] = norm
	}
	r.mu.Lock()
	r.snapshot = TemplateSnapshot{
		Version:   r.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Templates: templates,
	}
	r.mu.Unlock()
	logger.Infof("Strategy template registry loaded %d templates from %s", len(templates), filepath.Base(r.path))
	return nil
}

func normalizeTemplate(name string, tpl Template) (Template, error) {
	tpl.ID = strings.TrimSpace(tpl.ID)
	if tpl.ID == "" {
		tpl.ID = strings.TrimSpace(name)
	}
	tpl.Strategy = strings.TrimSpace(tpl.Strategy)
	if tpl.Strategy == "" {
		return Template{}, fmt.Errorf("template %s missing strategy", tpl.ID)
	}
	if _, err := New(tpl.Strategy); err != nil {
		return Template{}, fmt.Errorf("template %s: %w", tpl.ID, err)
	}
	if tpl.Version <= 0 {
		tpl.Version = 1
	}
	if len(tpl.Schema) > 0 {
		compiled, err := compileTemplateSchema(tpl.Schema)
		if err != nil {
			return Template{}, fmt.Errorf("template %s schema: %w", tpl.ID, err)
		}
		tpl.schemaCompiled = compiled
	}
	return tpl, nil
}

func cloneTemplateSnapshot(src TemplateSnapshot) TemplateSnapshot {
	dst := TemplateSnapshot{
		Version:   src.Version,
		LoadedAt:  src.LoadedAt,
		Templates: make(map[string]Template, len(src.Templates)),
	}
	for id, tpl := range src.Templates {
		dst.Templates[id] = tpl
	}
	return dst
}

func compileTemplateSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readTemplateFile(path string) (templateFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return templateFile{}, fmt.Errorf("read strategy templates failed: %w", err)
	}
	var cfg templateFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return templateFile{}, fmt.Errorf("parse strategy templates failed: %w", err)
	}
	return cfg, nil
}

// normalizeJSON converts yaml-decoded values into the shapes the jsonschema
// validator expects. Integers stay integers so "type: integer" constraints
// still validate.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeJSON(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeJSON(child)
		}
		return out
	case int:
		return json.Number(fmt.Sprintf("%d", val))
	case int64:
		return json.Number(fmt.Sprintf("%d", val))
	case float64:
		return val
	default:
		return val
	}
}
