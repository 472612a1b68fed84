package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"job-alert-relay/internal/model"
)

// MySQLSource reads the job table directly with gorm
type MySQLSource struct {
	db   *gorm.DB
	opts Options
}

// NewMySQLSource creates a database backed record source
func NewMySQLSource(db *gorm.DB, opts Options) *MySQLSource {
	if opts.Table == "" {
		opts.Table = "job_posts"
	}
	return &MySQLSource{db: db, opts: opts}
}

func (s *MySQLSource) base(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table(s.opts.Table+" AS j").
		Select("j.*, c.name AS category_name, co.name AS country_name, ci.name AS city_name").
		Joins("LEFT JOIN job_categories c ON c.id = j.categoryId").
		Joins("LEFT JOIN countries co ON co.id = j.countryId").
		Joins("LEFT JOIN cities ci ON ci.id = j.cityId")
}

// FetchCandidates returns published jobs created since the given time, newest first
func (s *MySQLSource) FetchCandidates(ctx context.Context, since time.Time) ([]model.Record, error) {
	var rows []jobRow
	result := s.base(ctx).
		Where("j.isPublished = ? AND j.createdAt >= ?", true, since.UTC()).
		Order("j.createdAt DESC").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, result.Error)
	}

	records := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := s.opts.toRecord(row)
		if err != nil {
			logrus.Errorf("Skipping unparseable job row: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// FetchByID returns a single job by id
func (s *MySQLSource) FetchByID(ctx context.Context, id string) (*model.Record, error) {
	var row jobRow
	result := s.base(ctx).Where("j.id = ?", id).Take(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, result.Error)
	}
	rec, err := s.opts.toRecord(row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
