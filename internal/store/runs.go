package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tool-factory/internal/models"

	"gorm.io/gorm"
)

// GetRunRecord loads the run record for a date with its actions, or nil.
func (s *Store) GetRunRecord(date time.Time) (*models.RunRecord, error) {
	var rec models.RunRecord
	err := s.db.Preload("Actions", func(db *gorm.DB) *gorm.DB {
		return db.Order("id asc")
	}).Where("date = ?", date.Format(models.DateLayout)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run record: %w", err)
	}
	return &rec, nil
}

// OpenRunRecord returns the existing record for the date or creates a fresh
// one in the started phase.
func (s *Store) OpenRunRecord(date time.Time, forced bool) (*models.RunRecord, error) {
	rec, err := s.GetRunRecord(date)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		if forced {
			rec.Forced = true
			rec.Completed = false
			rec.Phase = models.PhaseStarted
			if err := s.db.Save(rec).Error; err != nil {
				return nil, fmt.Errorf("reopen run record: %w", err)
			}
		}
		return rec, nil
	}

	rec = &models.RunRecord{
		Date:   date.Format(models.DateLayout),
		Phase:  models.PhaseStarted,
		Forced: forced,
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	return rec, nil
}

// SetRunPhase advances the recorded phase of an in-progress run.
func (s *Store) SetRunPhase(rec *models.RunRecord, phase string) error {
	rec.Phase = phase
	err := s.db.Model(&models.RunRecord{}).Where("id = ?", rec.ID).
		Update("phase", phase).Error
	if err != nil {
		return fmt.Errorf("set run phase: %w", err)
	}
	return nil
}

// AppendRunAction persists one action outcome immediately.
func (s *Store) AppendRunAction(rec *models.RunRecord, action *models.RunAction) error {
	action.RunRecordID = rec.ID
	if err := s.db.Create(action).Error; err != nil {
		return fmt.Errorf("append run action: %w", err)
	}
	rec.Actions = append(rec.Actions, *action)
	return nil
}

// CompleteRun marks the record settled and stores the operator summary.
func (s *Store) CompleteRun(rec *models.RunRecord, summary string) error {
	rec.Completed = true
	rec.Summary = summary
	rec.Phase = models.PhaseSettled
	err := s.db.Model(&models.RunRecord{}).Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"completed": true,
			"summary":   summary,
			"phase":     models.PhaseSettled,
		}).Error
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// SucceededActionKeys returns the idempotency keys of every action already
// recorded as succeeded for the date.
func (s *Store) SucceededActionKeys(date time.Time) (map[string]bool, error) {
	rec, err := s.GetRunRecord(date)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool)
	if rec == nil {
		return keys, nil
	}
	for i := range rec.Actions {
		a := rec.Actions[i]
		if a.Outcome == models.OutcomeSucceeded {
			keys[a.ActionKey()] = true
		}
	}
	return keys, nil
}

// ListRunRecords returns the most recent run records, newest first.
func (s *Store) ListRunRecords(limit int) ([]models.RunRecord, error) {
	var recs []models.RunRecord
	q := s.db.Preload("Actions").Order("date desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list run records: %w", err)
	}
	return recs, nil
}

// AcquireRunLock takes the single-writer lock for a date. A concurrent
// second invocation fails fast with ErrRunInProgress.
func (s *Store) AcquireRunLock(date time.Time) error {
	lock := models.RunLock{
		Date:       date.Format(models.DateLayout),
		AcquiredAt: time.Now(),
		PID:        os.Getpid(),
	}
	if err := s.db.Create(&lock).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrRunInProgress
		}
		return fmt.Errorf("acquire run lock: %w", err)
	}
	return nil
}

// ReleaseRunLock drops the lock for a date. Safe to call when not held.
func (s *Store) ReleaseRunLock(date time.Time) error {
	err := s.db.Where("date = ?", date.Format(models.DateLayout)).
		Delete(&models.RunLock{}).Error
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
