package records

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
)

// csvRow flattens Result for the CSV codec; params travel as a JSON string
// column so the file stays one row per trade.
type csvRow struct {
	Result
	ParamsJSON string `csv:"parameters"`
}

// CSVStore keeps one CSV file per strategy under its base directory.
type CSVStore struct {
	dir string
	mu  sync.Mutex
}

func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	return &CSVStore{dir: dir}, nil
}

func (s *CSVStore) path(strategy string) string {
	name := strings.ToLower(strings.ReplaceAll(strategy, " ", "_"))
	return filepath.Join(s.dir, name+".csv")
}

func (s *CSVStore) load(strategy string) ([]csvRow, error) {
	f, err := os.Open(s.path(strategy))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var rows []csvRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path(strategy), err)
	}
	return rows, nil
}

func (s *CSVStore) write(strategy string, rows []csvRow) error {
	f, err := os.Create(s.path(strategy))
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(&rows, f)
}

func (s *CSVStore) Save(ctx context.Context, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load(res.Strategy)
	if err != nil {
		return err
	}
	rows = append(rows, csvRow{Result: *res, ParamsJSON: res.paramsJSON()})
	return s.write(res.Strategy, rows)
}

func (s *CSVStore) Update(ctx context.Context, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load(res.Strategy)
	if err != nil {
		return err
	}
	for i := range rows {
		if rows[i].ID == res.ID {
			rows[i] = csvRow{Result: *res, ParamsJSON: res.paramsJSON()}
			return s.write(res.Strategy, rows)
		}
	}
	return fmt.Errorf("result %s not found for strategy %s", res.ID, res.Strategy)
}

func (s *CSVStore) Open(ctx context.Context, strategy string) ([]Result, error) {
	all, err := s.All(ctx, strategy)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, r := range all {
		if !r.Closed {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *CSVStore) All(ctx context.Context, strategy string) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load(strategy)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		res := row.Result
		res.Params = parseParams(row.ParamsJSON)
		out = append(out, res)
	}
	return out, nil
}
