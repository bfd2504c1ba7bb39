package store

import (
	"errors"
	"fmt"
	"time"

	"tool-factory/internal/models"

	"gorm.io/gorm"
)

// ErrDuplicateEvent is returned when an idempotency key has already been
// ingested; the caller logs and skips instead of double-counting.
var ErrDuplicateEvent = errors.New("duplicate event")

// ErrRunInProgress is returned when a second orchestrator invocation tries
// to acquire the run lock for a date that is already being processed.
var ErrRunInProgress = errors.New("run already in progress for date")

// Store is the single persistence layer for tools, metrics, content,
// run records and run locks.
type Store struct {
	db *gorm.DB
}

// New wraps a gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for read-only dashboard queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// RecordSale folds one sale event into the (tool, date) counters.
// eventKey is the external transaction id; a repeated key is rejected.
func (s *Store) RecordSale(toolID uint, date time.Time, amount float64, eventKey string) error {
	return s.ingest("sale", toolID, date, amount, eventKey, func(m *models.DailyMetric) {
		m.Sales++
		m.Revenue += amount
	})
}

// RecordClick folds one click event into the (tool, date) counters.
func (s *Store) RecordClick(toolID uint, date time.Time, eventKey string) error {
	return s.ingest("click", toolID, date, 0, eventKey, func(m *models.DailyMetric) {
		m.Clicks++
	})
}

// RecordConversion folds one conversion event into the (tool, date) counters.
// A conversion implies a visit, so the click counter is bumped alongside when
// the raw feed delivered the conversion without its click; conversions can
// therefore never exceed clicks.
func (s *Store) RecordConversion(toolID uint, date time.Time, eventKey string) error {
	return s.ingest("conversion", toolID, date, 0, eventKey, func(m *models.DailyMetric) {
		m.Conversions++
		if m.Conversions > m.Clicks {
			m.Clicks = m.Conversions
		}
	})
}

func (s *Store) ingest(kind string, toolID uint, date time.Time, amount float64, eventKey string, apply func(*models.DailyMetric)) error {
	day := date.Format(models.DateLayout)

	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.IngestedEvent{}).Where("event_key = ?", eventKey).Count(&count).Error; err != nil {
			return fmt.Errorf("check event key: %w", err)
		}
		if count > 0 {
			return ErrDuplicateEvent
		}

		event := models.IngestedEvent{
			EventKey: eventKey,
			Kind:     kind,
			ToolID:   toolID,
			Date:     day,
			Amount:   amount,
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("record event: %w", err)
		}

		var metric models.DailyMetric
		err := tx.Where("tool_id = ? AND date = ?", toolID, day).First(&metric).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metric = models.DailyMetric{ToolID: toolID, Date: day}
		} else if err != nil {
			return fmt.Errorf("load metric row: %w", err)
		}

		apply(&metric)
		if err := tx.Save(&metric).Error; err != nil {
			return fmt.Errorf("save metric row: %w", err)
		}
		return nil
	})
}

// GetMetrics returns one DailyMetric per day in [from, to] for the tool.
// Days without stored rows come back zero-valued, never absent.
func (s *Store) GetMetrics(toolID uint, from, to time.Time) ([]models.DailyMetric, error) {
	var rows []models.DailyMetric
	err := s.db.
		Where("tool_id = ? AND date >= ? AND date <= ?",
			toolID, from.Format(models.DateLayout), to.Format(models.DateLayout)).
		Order("date asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}

	byDate := make(map[string]models.DailyMetric, len(rows))
	for _, r := range rows {
		byDate[r.Date] = r
	}

	var out []models.DailyMetric
	for d := truncateDay(from); !d.After(truncateDay(to)); d = d.AddDate(0, 0, 1) {
		key := d.Format(models.DateLayout)
		if row, ok := byDate[key]; ok {
			out = append(out, row)
		} else {
			out = append(out, models.DailyMetric{ToolID: toolID, Date: key})
		}
	}
	return out, nil
}

// MetricsInWindow returns all stored metric rows across tools for [from, to].
func (s *Store) MetricsInWindow(from, to time.Time) ([]models.DailyMetric, error) {
	var rows []models.DailyMetric
	err := s.db.
		Where("date >= ? AND date <= ?",
			from.Format(models.DateLayout), to.Format(models.DateLayout)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load metrics window: %w", err)
	}
	return rows, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
