package planner

import (
	"fmt"
	"time"

	"tool-factory/internal/config"
	"tool-factory/internal/models"
	"tool-factory/internal/ranker"
	"tool-factory/internal/store"
)

// ActionKind enumerates the work the executor knows how to dispatch.
type ActionKind string

const (
	KindBuildTool       ActionKind = "build_tool"
	KindPublishProduct  ActionKind = "publish_product"
	KindGenerateContent ActionKind = "generate_content"
	KindPostContent     ActionKind = "post_content"
)

// Action is one planned unit of work. Target identifies the subject
// (tool slug or content item) and, with Kind, forms the idempotency key.
type Action struct {
	Kind          ActionKind
	Target        string
	ToolSlug      string
	ToolID        uint
	CloneOf       string
	Platforms     []string
	ContentItemID uint
}

// Key is the idempotency identity matched against prior RunRecord actions.
func (a Action) Key() string {
	return string(a.Kind) + ":" + a.Target
}

func (a Action) String() string {
	switch a.Kind {
	case KindBuildTool:
		return fmt.Sprintf("build %s (clone of %s)", a.Target, a.CloneOf)
	case KindPublishProduct:
		return fmt.Sprintf("publish %s", a.Target)
	case KindGenerateContent:
		return fmt.Sprintf("generate content for %s %v", a.ToolSlug, a.Platforms)
	case KindPostContent:
		return fmt.Sprintf("post content item %d (%s)", a.ContentItemID, a.ToolSlug)
	}
	return string(a.Kind) + " " + a.Target
}

// Plan is an ordered action list. Order matters: builds and publishes settle
// before content generation, generation before posting, because later
// actions may depend on artifacts produced earlier in the same run.
type Plan struct {
	Date    time.Time
	Actions []Action
}

// Build derives the day's action plan from the ranking and backlog snapshot.
// Pure function of its inputs; it never inspects execution history.
func Build(date time.Time, ranking []ranker.ToolScore, backlog *store.Backlog, cfg config.PlannerConfig) Plan {
	plan := Plan{Date: date}

	// Clone the winner when it clears the threshold and no clone of it
	// was built this week.
	if len(ranking) > 0 {
		top := ranking[0]
		if top.Score > cfg.CloneThreshold && !backlog.CloneBuiltThisWeek[top.Tool.Slug] {
			cloneSlug := fmt.Sprintf("%s-clone-%s", top.Tool.Slug, date.Format("20060102"))
			plan.Actions = append(plan.Actions, Action{
				Kind:     KindBuildTool,
				Target:   cloneSlug,
				ToolSlug: cloneSlug,
				CloneOf:  top.Tool.Slug,
			})
		}
	}

	// Built drafts go live before any content work references them.
	for _, tool := range backlog.Tools {
		if tool.Status == models.ToolStatusDraft && tool.Built() {
			plan.Actions = append(plan.Actions, Action{
				Kind:     KindPublishProduct,
				Target:   tool.Slug,
				ToolSlug: tool.Slug,
				ToolID:   tool.ID,
			})
		}
	}

	// Keep every published tool fed with fresh promotional content.
	for _, tool := range backlog.Tools {
		if tool.Status != models.ToolStatusPublished {
			continue
		}
		if backlog.WeeklyContent[tool.ID] >= cfg.WeeklyContentMin {
			continue
		}
		plan.Actions = append(plan.Actions, Action{
			Kind:      KindGenerateContent,
			Target:    tool.Slug,
			ToolSlug:  tool.Slug,
			ToolID:    tool.ID,
			Platforms: cfg.Platforms,
		})
	}

	// Flush the pending content queue.
	for _, item := range backlog.PendingContent {
		plan.Actions = append(plan.Actions, Action{
			Kind:          KindPostContent,
			Target:        fmt.Sprintf("content-%d", item.ID),
			ToolSlug:      item.Tool.Slug,
			ToolID:        item.ToolID,
			ContentItemID: item.ID,
			Platforms:     []string{item.Platform},
		})
	}

	return plan
}
