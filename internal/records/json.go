package records

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// JSONStore keeps one JSON array file per strategy.
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

func (s *JSONStore) path(strategy string) string {
	name := strings.ToLower(strings.ReplaceAll(strategy, " ", "_"))
	return filepath.Join(s.dir, name+".json")
}

func (s *JSONStore) raw(strategy string) ([]byte, error) {
	data, err := os.ReadFile(s.path(strategy))
	if err != nil {
		if os.IsNotExist(err) {
			return []byte("[]"), nil
		}
		return nil, err
	}
	return data, nil
}

func (s *JSONStore) load(strategy string) ([]Result, error) {
	data, err := s.raw(strategy)
	if err != nil {
		return nil, err
	}
	var out []Result
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path(strategy), err)
	}
	return out, nil
}

func (s *JSONStore) write(strategy string, results []Result) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(strategy), data, 0o644)
}

func (s *JSONStore) Save(ctx context.Context, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	results, err := s.load(res.Strategy)
	if err != nil {
		return err
	}
	return s.write(res.Strategy, append(results, *res))
}

func (s *JSONStore) Update(ctx context.Context, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.raw(res.Strategy)
	if err != nil {
		return err
	}
	// locate by id without decoding the whole file first
	if !gjson.GetBytes(data, fmt.Sprintf(`#(id==%q)`, res.ID)).Exists() {
		return fmt.Errorf("result %s not found for strategy %s", res.ID, res.Strategy)
	}
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("read %s: %w", s.path(res.Strategy), err)
	}
	for i := range results {
		if results[i].ID == res.ID {
			results[i] = *res
			break
		}
	}
	return s.write(res.Strategy, results)
}

func (s *JSONStore) Open(ctx context.Context, strategy string) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.raw(strategy)
	if err != nil {
		return nil, err
	}
	var out []Result
	for _, item := range gjson.GetBytes(data, `#(closed==false)#`).Array() {
		var res Result
		if err := json.Unmarshal([]byte(item.Raw), &res); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *JSONStore) All(ctx context.Context, strategy string) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(strategy)
}
