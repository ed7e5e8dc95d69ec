package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// RunStore archives RunStats as JSON files, one per run, for the HTTP API.
type RunStore struct {
	dir string
	mu  sync.Mutex
}

func NewRunStore(dir string) (*RunStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &RunStore{dir: dir}, nil
}

func (s *RunStore) Save(stats RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, stats.ID+".json"), data, 0o644)
}

func (s *RunStore) Get(id string) (*RunStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, err
	}
	var stats RunStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// List returns all archived runs, newest first.
func (s *RunStore) List() ([]RunStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []RunStats
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var stats RunStats
		if err := json.Unmarshal(data, &stats); err != nil {
			continue
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt > out[j].GeneratedAt })
	return out, nil
}
