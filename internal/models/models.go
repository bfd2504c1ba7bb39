package models

import (
	"time"
)

// Tool status values
const (
	ToolStatusDraft     = "draft"
	ToolStatusPublished = "published"
	ToolStatusRetired   = "retired"
)

// ContentItem status values
const (
	ContentStatusPending = "pending"
	ContentStatusPosted  = "posted"
	ContentStatusFailed  = "failed"
)

// Content platforms
const (
	PlatformYouTube   = "youtube"
	PlatformPinterest = "pinterest"
)

// Run action outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Run phases recorded on the RunRecord as the orchestrator advances
const (
	PhaseStarted       = "started"
	PhaseMetricsLoaded = "metrics_loaded"
	PhasePlanned       = "planned"
	PhaseDispatched    = "dispatched"
	PhaseSettled       = "settled"
)

// DateLayout is the canonical day key used across metrics, runs and locks.
const DateLayout = "2006-01-02"

// Tool represents a digital product generated from a template.
// Tools are never deleted, only retired.
type Tool struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Slug       string    `json:"slug" gorm:"uniqueIndex;not null"`
	Name       string    `json:"name" gorm:"not null"`
	Template   string    `json:"template" gorm:"not null"`
	Niche      string    `json:"niche"`
	Price      float64   `json:"price"`
	Status     string    `json:"status" gorm:"default:'draft';index"`
	BuildPath  string    `json:"build_path"`
	LandingURL string    `json:"landing_url"`
	ProductID  string    `json:"product_id"` // storefront product id once published
	ClonedFrom string    `json:"cloned_from" gorm:"index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Built reports whether the template build step has completed for this tool.
func (t *Tool) Built() bool {
	return t.BuildPath != ""
}

// DailyMetric holds one row of performance counters per (tool, date).
type DailyMetric struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ToolID      uint      `json:"tool_id" gorm:"not null;uniqueIndex:idx_tool_date"`
	Date        string    `json:"date" gorm:"not null;uniqueIndex:idx_tool_date"`
	Sales       int       `json:"sales"`
	Revenue     float64   `json:"revenue"`
	Clicks      int       `json:"clicks"`
	Conversions int       `json:"conversions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IngestedEvent records the idempotency key of every raw feed event that has
// been folded into DailyMetric counters, so re-ingestion never double-counts.
type IngestedEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	EventKey  string    `json:"event_key" gorm:"uniqueIndex;not null"`
	Kind      string    `json:"kind"` // sale, click, conversion
	ToolID    uint      `json:"tool_id" gorm:"index"`
	Date      string    `json:"date"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentItem is a generated promotional asset tied to a tool and platform.
type ContentItem struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	ToolID         uint       `json:"tool_id" gorm:"not null;index"`
	Tool           Tool       `json:"tool" gorm:"foreignKey:ToolID"`
	Platform       string     `json:"platform" gorm:"not null;index"`
	VideoPath      string     `json:"video_path"`
	Caption        string     `json:"caption" gorm:"type:text"`
	Hashtags       string     `json:"hashtags"`
	Status         string     `json:"status" gorm:"default:'pending';index"`
	ExternalPostID string     `json:"external_post_id"`
	PostedAt       *time.Time `json:"posted_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RunRecord is the durable record of one day's orchestrated plan.
// At most one record exists per date; forced re-runs append actions to it.
type RunRecord struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	Date      string      `json:"date" gorm:"uniqueIndex;not null"`
	Phase     string      `json:"phase" gorm:"default:'started'"`
	Completed bool        `json:"completed"`
	Forced    bool        `json:"forced"`
	Summary   string      `json:"summary" gorm:"type:text"`
	Actions   []RunAction `json:"actions" gorm:"foreignKey:RunRecordID"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunAction is one attempted action inside a run, persisted as soon as its
// outcome is known so a crash loses at most the in-flight action.
type RunAction struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	RunRecordID uint      `json:"run_record_id" gorm:"not null;index"`
	Seq         int       `json:"seq"`
	Kind        string    `json:"kind" gorm:"not null"`
	Target      string    `json:"target" gorm:"not null"`
	Outcome     string    `json:"outcome" gorm:"not null"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActionKey is the idempotency identity used by the executor guard.
func (a *RunAction) ActionKey() string {
	return a.Kind + ":" + a.Target
}

// RunLock enforces the single-writer rule: one orchestrator run per date.
type RunLock struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Date       string    `json:"date" gorm:"uniqueIndex;not null"`
	AcquiredAt time.Time `json:"acquired_at"`
	PID        int       `json:"pid"`
}
