package risk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"finch/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
)

const profileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "risk_pct":       {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
    "risk_to_reward": {"type": "number", "exclusiveMinimum": 0},
    "fixed_amount":   {"type": "number", "minimum": 0},
    "min_amount":     {"type": "number", "minimum": 0},
    "max_amount":     {"type": "number", "minimum": 0},
    "open_limit":     {"type": "integer", "minimum": 0},
    "loss_limit":     {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false
}`

func compileProfileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("risk_profile.json", bytes.NewReader([]byte(profileSchema))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile("risk_profile.json")
}

// ProfileLoader loads a JSON risk profile from disk, validates it against the
// profile schema, and pushes it to a Manager. Watch keeps the manager in sync
// with edits to the file for the lifetime of the process.
type ProfileLoader struct {
	path    string
	schema  *jsonschema.Schema
	manager *Manager

	mu       sync.Mutex
	version  int
	watching bool
}

func NewProfileLoader(path string, manager *Manager) (*ProfileLoader, error) {
	schema, err := compileProfileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile risk profile schema: %w", err)
	}
	return &ProfileLoader{path: path, schema: schema, manager: manager}, nil
}

// Version counts successful loads, starting at 1 after the first Load.
func (l *ProfileLoader) Version() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Load reads, validates and applies the profile. The manager keeps its
// previous profile when the file is invalid.
func (l *ProfileLoader) Load() error {
	cfg, err := l.read()
	if err != nil {
		return err
	}
	l.manager.Apply(cfg)
	l.mu.Lock()
	l.version++
	l.mu.Unlock()
	return nil
}

func (l *ProfileLoader) read() (Config, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return Config{}, fmt.Errorf("read risk profile: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("parse risk profile %s: %w", l.path, err)
	}
	if err := l.schema.Validate(doc); err != nil {
		return Config{}, fmt.Errorf("validate risk profile %s: %w", l.path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode risk profile %s: %w", l.path, err)
	}
	return cfg, nil
}

// Watch reloads the profile whenever the file changes on disk. A reload that
// fails validation is logged and skipped.
func (l *ProfileLoader) Watch() {
	l.mu.Lock()
	if l.watching {
		l.mu.Unlock()
		return
	}
	l.watching = true
	l.mu.Unlock()

	v := viper.New()
	v.SetConfigFile(l.path)
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := l.Load(); err != nil {
			logger.Warnf("risk profile change ignored: %v", err)
			return
		}
		logger.Infof("risk profile reloaded from %s (v%d)", l.path, l.Version())
	})
	v.WatchConfig()
}
