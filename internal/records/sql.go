package records

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// resultRow is the gorm model behind SQLStore; params land in a JSON column.
type resultRow struct {
	Result
	ParamsJSON datatypes.JSON `gorm:"column:parameters"`
}

func (resultRow) TableName() string { return "results" }

// SQLStore persists results in a single sqlite database shared by all
// strategies.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	if err := db.AutoMigrate(&resultRow{}); err != nil {
		return nil, fmt.Errorf("migrate results db: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func toRow(res *Result) (*resultRow, error) {
	row := &resultRow{Result: *res}
	raw, err := json.Marshal(res.Params)
	if err != nil {
		return nil, err
	}
	row.ParamsJSON = datatypes.JSON(raw)
	return row, nil
}

func fromRow(row resultRow) Result {
	res := row.Result
	res.Params = parseParams(string(row.ParamsJSON))
	return res
}

func (s *SQLStore) Save(ctx context.Context, res *Result) error {
	row, err := toRow(res)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *SQLStore) Update(ctx context.Context, res *Result) error {
	row, err := toRow(res)
	if err != nil {
		return err
	}
	tx := s.db.WithContext(ctx).Model(&resultRow{}).
		Where("id = ?", res.ID).
		Select("*").Omit("id").
		Updates(row)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("result %s not found for strategy %s", res.ID, res.Strategy)
	}
	return nil
}

func (s *SQLStore) Open(ctx context.Context, strategy string) ([]Result, error) {
	return s.query(ctx, "strategy = ? AND closed = ?", strategy, false)
}

func (s *SQLStore) All(ctx context.Context, strategy string) ([]Result, error) {
	return s.query(ctx, "strategy = ?", strategy)
}

func (s *SQLStore) query(ctx context.Context, cond string, args ...any) ([]Result, error) {
	var rows []resultRow
	if err := s.db.WithContext(ctx).Where(cond, args...).Order("time").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}
