package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tool-factory/internal/config"
	"tool-factory/internal/database"
	"tool-factory/internal/models"
	"tool-factory/internal/planner"
	"tool-factory/internal/services"
	"tool-factory/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testExecCfg = config.ExecutorConfig{
	MaxAttempts:  5,
	InitialDelay: time.Millisecond,
	MaxDelay:     8 * time.Millisecond,
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return store.New(db)
}

// Stub collaborators consume a scripted error sequence; a nil entry or an
// exhausted script means success.

type stubStorefront struct {
	calls int
	errs  []error
}

func (s *stubStorefront) Publish(ctx context.Context, tool *models.Tool) (string, string, error) {
	s.calls++
	if err := s.next(); err != nil {
		return "", "", err
	}
	return fmt.Sprintf("prod-%d", s.calls), "https://store.example/checkout", nil
}

func (s *stubStorefront) next() error {
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

type stubPoster struct {
	calls int
	errs  []error
}

func (s *stubPoster) Post(ctx context.Context, item *models.ContentItem) (string, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("post-%d", s.calls), nil
}

type stubCloner struct {
	calls int
}

func (s *stubCloner) Clone(sourceSlug, newSlug string) (*models.Tool, error) {
	s.calls++
	return &models.Tool{Slug: newSlug, ClonedFrom: sourceSlug}, nil
}

type stubGenerator struct {
	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, tool *models.Tool, platform string) (*models.ContentItem, error) {
	s.calls++
	return &models.ContentItem{
		ToolID:   tool.ID,
		Platform: platform,
		Status:   models.ContentStatusPending,
	}, nil
}

type fixture struct {
	store      *store.Store
	exec       *Executor
	storefront *stubStorefront
	poster     *stubPoster
	cloner     *stubCloner
	generator  *stubGenerator
	sleeps     int
}

func newFixture(t *testing.T, cfg config.ExecutorConfig) *fixture {
	t.Helper()

	f := &fixture{
		store:      newTestStore(t),
		storefront: &stubStorefront{},
		poster:     &stubPoster{},
		cloner:     &stubCloner{},
		generator:  &stubGenerator{},
	}
	f.exec = New(f.store, f.cloner, f.storefront, f.generator,
		map[string]Poster{models.PlatformYouTube: f.poster}, cfg)
	f.exec.SetSleep(func(time.Duration) { f.sleeps++ })
	return f
}

func (f *fixture) seedContent(t *testing.T) *models.ContentItem {
	t.Helper()

	tool := &models.Tool{Slug: "calc-a", Name: "Calc A", Template: "roi_calculator", Status: models.ToolStatusPublished}
	if err := f.store.CreateTool(tool); err != nil {
		t.Fatalf("seed tool: %v", err)
	}
	item := &models.ContentItem{ToolID: tool.ID, Platform: models.PlatformYouTube, Status: models.ContentStatusPending, VideoPath: "render.mp4"}
	if err := f.store.CreateContentItem(item); err != nil {
		t.Fatalf("seed content: %v", err)
	}
	return item
}

func postAction(item *models.ContentItem) planner.Action {
	return planner.Action{
		Kind:          planner.KindPostContent,
		Target:        fmt.Sprintf("content-%d", item.ID),
		ContentItemID: item.ID,
	}
}

func runDate() time.Time {
	return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
}

func TestRateLimitedRetriesUntilSuccessWithinCeiling(t *testing.T) {
	f := newFixture(t, testExecCfg)
	item := f.seedContent(t)

	rl := func() error { return services.RateLimited("youtube.post", errors.New("429")) }
	f.poster.errs = []error{rl(), rl(), rl(), nil}

	plan := planner.Plan{Date: runDate(), Actions: []planner.Action{postAction(item)}}
	rec, err := f.exec.Execute(context.Background(), plan, runDate())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(rec.Actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(rec.Actions))
	}
	a := rec.Actions[0]
	if a.Outcome != models.OutcomeSucceeded {
		t.Errorf("outcome = %s, want succeeded", a.Outcome)
	}
	if a.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", a.Attempts)
	}
	if f.sleeps != 3 {
		t.Errorf("backoff sleeps = %d, want 3", f.sleeps)
	}

	updated, err := f.store.GetContentItem(item.ID)
	if err != nil {
		t.Fatalf("reload item: %v", err)
	}
	if updated.Status != models.ContentStatusPosted {
		t.Errorf("content status = %s, want posted", updated.Status)
	}
}

func TestAuthExpiredFailsWithoutRetryAndRunContinues(t *testing.T) {
	f := newFixture(t, testExecCfg)
	item := f.seedContent(t)

	draft := &models.Tool{Slug: "built-draft", Name: "Built Draft", Template: "roi_calculator", Status: models.ToolStatusDraft, BuildPath: "x"}
	if err := f.store.CreateTool(draft); err != nil {
		t.Fatalf("seed draft: %v", err)
	}

	f.poster.errs = []error{services.AuthExpired("youtube.post", errors.New("401"))}

	plan := planner.Plan{Date: runDate(), Actions: []planner.Action{
		postAction(item),
		{Kind: planner.KindPublishProduct, Target: "built-draft", ToolSlug: "built-draft"},
	}}
	rec, err := f.exec.Execute(context.Background(), plan, runDate())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(rec.Actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(rec.Actions))
	}
	if rec.Actions[0].Outcome != models.OutcomeFailed {
		t.Errorf("post outcome = %s, want failed", rec.Actions[0].Outcome)
	}
	if rec.Actions[0].Attempts != 1 {
		t.Errorf("post attempts = %d, want 1 (no retries on auth failure)", rec.Actions[0].Attempts)
	}
	if f.sleeps != 0 {
		t.Errorf("sleeps = %d, want 0", f.sleeps)
	}
	if rec.Actions[1].Outcome != models.OutcomeSucceeded {
		t.Errorf("publish outcome = %s, want succeeded (failure must not abort the plan)", rec.Actions[1].Outcome)
	}

	// Credential failures leave the item pending so the next run retries it.
	updated, err := f.store.GetContentItem(item.ID)
	if err != nil {
		t.Fatalf("reload item: %v", err)
	}
	if updated.Status != models.ContentStatusPending {
		t.Errorf("content status = %s, want pending", updated.Status)
	}
}

func TestRetryCeilingExhaustedRecordsFailure(t *testing.T) {
	cfg := testExecCfg
	cfg.MaxAttempts = 3
	f := newFixture(t, cfg)
	item := f.seedContent(t)

	rl := func() error { return services.RateLimited("youtube.post", errors.New("429")) }
	f.poster.errs = []error{rl(), rl(), rl(), rl()}

	plan := planner.Plan{Date: runDate(), Actions: []planner.Action{postAction(item)}}
	rec, err := f.exec.Execute(context.Background(), plan, runDate())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	a := rec.Actions[0]
	if a.Outcome != models.OutcomeFailed {
		t.Errorf("outcome = %s, want failed after exhausted retries", a.Outcome)
	}
	if a.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", a.Attempts)
	}
	if f.poster.calls != 3 {
		t.Errorf("poster calls = %d, want 3", f.poster.calls)
	}
}

func TestAlreadySucceededActionsAreSkipped(t *testing.T) {
	f := newFixture(t, testExecCfg)

	draft := &models.Tool{Slug: "built-draft", Name: "Built Draft", Template: "roi_calculator", Status: models.ToolStatusDraft, BuildPath: "x"}
	if err := f.store.CreateTool(draft); err != nil {
		t.Fatalf("seed draft: %v", err)
	}

	publish := planner.Action{Kind: planner.KindPublishProduct, Target: "built-draft", ToolSlug: "built-draft"}
	plan := planner.Plan{Date: runDate(), Actions: []planner.Action{publish}}

	if _, err := f.exec.Execute(context.Background(), plan, runDate()); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if f.storefront.calls != 1 {
		t.Fatalf("storefront calls = %d, want 1", f.storefront.calls)
	}

	// Re-executing the same plan for the same date must not call the
	// storefront again or append new action rows.
	rec, err := f.exec.Execute(context.Background(), plan, runDate())
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if f.storefront.calls != 1 {
		t.Errorf("storefront calls = %d, want still 1", f.storefront.calls)
	}
	if len(rec.Actions) != 1 {
		t.Errorf("record has %d actions, want 1 (skip adds no rows)", len(rec.Actions))
	}
}

func TestCancellationBetweenActionsLeavesRecordResumable(t *testing.T) {
	f := newFixture(t, testExecCfg)

	for _, slug := range []string{"draft-1", "draft-2"} {
		draft := &models.Tool{Slug: slug, Name: slug, Template: "roi_calculator", Status: models.ToolStatusDraft, BuildPath: "x"}
		if err := f.store.CreateTool(draft); err != nil {
			t.Fatalf("seed %s: %v", slug, err)
		}
	}

	plan := planner.Plan{Date: runDate(), Actions: []planner.Action{
		{Kind: planner.KindPublishProduct, Target: "draft-1", ToolSlug: "draft-1"},
		{Kind: planner.KindPublishProduct, Target: "draft-2", ToolSlug: "draft-2"},
	}}

	// Cancel once the first action settles, as a signal arriving mid-run
	// would.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.exec.Notify = func(kind, target, outcome string) { cancel() }

	rec, err := f.exec.Execute(ctx, plan, runDate())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(rec.Actions) != 1 {
		t.Fatalf("got %d actions before abort, want 1", len(rec.Actions))
	}
	if rec.Actions[0].Outcome != models.OutcomeSucceeded {
		t.Fatalf("first action outcome = %s", rec.Actions[0].Outcome)
	}

	// A fresh invocation resumes: the settled action is skipped, the
	// unattempted one runs.
	f.exec.Notify = nil
	rec, err = f.exec.Execute(context.Background(), plan, runDate())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if f.storefront.calls != 2 {
		t.Errorf("storefront calls = %d, want 2 (one per draft, none repeated)", f.storefront.calls)
	}
	if len(rec.Actions) != 2 {
		t.Fatalf("got %d actions after resume, want 2", len(rec.Actions))
	}
	if rec.Actions[1].Target != "draft-2" || rec.Actions[1].Outcome != models.OutcomeSucceeded {
		t.Errorf("resumed action = %s/%s, want draft-2 succeeded",
			rec.Actions[1].Target, rec.Actions[1].Outcome)
	}
}

func TestGenerateContentCreatesItemsPerPlatform(t *testing.T) {
	f := newFixture(t, testExecCfg)

	tool := &models.Tool{Slug: "calc-a", Name: "Calc A", Template: "roi_calculator", Status: models.ToolStatusPublished}
	if err := f.store.CreateTool(tool); err != nil {
		t.Fatalf("seed tool: %v", err)
	}

	plan := planner.Plan{Date: runDate(), Actions: []planner.Action{{
		Kind:      planner.KindGenerateContent,
		Target:    "calc-a",
		ToolSlug:  "calc-a",
		ToolID:    tool.ID,
		Platforms: []string{models.PlatformYouTube, models.PlatformPinterest},
	}}}
	rec, err := f.exec.Execute(context.Background(), plan, runDate())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if rec.Actions[0].Outcome != models.OutcomeSucceeded {
		t.Fatalf("outcome = %s", rec.Actions[0].Outcome)
	}
	if f.generator.calls != 2 {
		t.Errorf("generator calls = %d, want 2", f.generator.calls)
	}

	backlog, err := f.store.Snapshot(runDate().AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(backlog.PendingContent) != 2 {
		t.Errorf("pending content = %d, want 2", len(backlog.PendingContent))
	}
}
