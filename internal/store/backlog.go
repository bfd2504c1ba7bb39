package store

import (
	"errors"
	"fmt"
	"time"

	"tool-factory/internal/models"

	"gorm.io/gorm"
)

// Backlog is the explicit product/content snapshot handed to the planner,
// so planning stays a pure function of its inputs.
type Backlog struct {
	Tools          []models.Tool
	PendingContent []models.ContentItem
	// WeeklyContent counts pending+posted items per tool over the last 7 days.
	WeeklyContent map[uint]int
	// CloneBuiltThisWeek maps a source slug to whether a clone of it was
	// already created in the last 7 days.
	CloneBuiltThisWeek map[string]bool
}

// Snapshot assembles the planner backlog as of the given date.
func (s *Store) Snapshot(asOf time.Time) (*Backlog, error) {
	b := &Backlog{
		WeeklyContent:      make(map[uint]int),
		CloneBuiltThisWeek: make(map[string]bool),
	}

	if err := s.db.Order("slug asc").Find(&b.Tools).Error; err != nil {
		return nil, fmt.Errorf("load tools: %w", err)
	}

	err := s.db.Preload("Tool").
		Where("status = ?", models.ContentStatusPending).
		Order("id asc").
		Find(&b.PendingContent).Error
	if err != nil {
		return nil, fmt.Errorf("load pending content: %w", err)
	}

	weekAgo := asOf.AddDate(0, 0, -7)

	type contentCount struct {
		ToolID uint
		N      int
	}
	var counts []contentCount
	err = s.db.Model(&models.ContentItem{}).
		Select("tool_id, count(*) as n").
		Where("created_at >= ? AND status IN ?", weekAgo,
			[]string{models.ContentStatusPending, models.ContentStatusPosted}).
		Group("tool_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("count weekly content: %w", err)
	}
	for _, c := range counts {
		b.WeeklyContent[c.ToolID] = c.N
	}

	var clones []models.Tool
	err = s.db.Where("cloned_from <> '' AND created_at >= ?", weekAgo).Find(&clones).Error
	if err != nil {
		return nil, fmt.Errorf("load recent clones: %w", err)
	}
	for _, c := range clones {
		b.CloneBuiltThisWeek[c.ClonedFrom] = true
	}

	return b, nil
}

// CreateTool inserts a new tool row.
func (s *Store) CreateTool(tool *models.Tool) error {
	if err := s.db.Create(tool).Error; err != nil {
		return fmt.Errorf("create tool: %w", err)
	}
	return nil
}

// GetTool loads a tool by slug.
func (s *Store) GetTool(slug string) (*models.Tool, error) {
	var tool models.Tool
	if err := s.db.Where("slug = ?", slug).First(&tool).Error; err != nil {
		return nil, err
	}
	return &tool, nil
}

// ListTools returns every tool ordered by slug.
func (s *Store) ListTools() ([]models.Tool, error) {
	var tools []models.Tool
	if err := s.db.Order("slug asc").Find(&tools).Error; err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return tools, nil
}

// SaveTool persists mutations to an existing tool.
func (s *Store) SaveTool(tool *models.Tool) error {
	if err := s.db.Save(tool).Error; err != nil {
		return fmt.Errorf("save tool: %w", err)
	}
	return nil
}

// CreateContentItem inserts a generated asset in pending state.
func (s *Store) CreateContentItem(item *models.ContentItem) error {
	if err := s.db.Create(item).Error; err != nil {
		return fmt.Errorf("create content item: %w", err)
	}
	return nil
}

// GetContentItem loads one content item with its tool.
func (s *Store) GetContentItem(id uint) (*models.ContentItem, error) {
	var item models.ContentItem
	if err := s.db.Preload("Tool").First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("content item %d not found", id)
		}
		return nil, err
	}
	return &item, nil
}

// MarkContentPosted records a successful post.
func (s *Store) MarkContentPosted(id uint, externalPostID string, at time.Time) error {
	err := s.db.Model(&models.ContentItem{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           models.ContentStatusPosted,
		"external_post_id": externalPostID,
		"posted_at":        at,
	}).Error
	if err != nil {
		return fmt.Errorf("mark content posted: %w", err)
	}
	return nil
}

// MarkContentFailed retires a permanently unusable item; it no longer
// appears in the pending backlog.
func (s *Store) MarkContentFailed(id uint) error {
	err := s.db.Model(&models.ContentItem{}).Where("id = ?", id).
		Update("status", models.ContentStatusFailed).Error
	if err != nil {
		return fmt.Errorf("mark content failed: %w", err)
	}
	return nil
}
