package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tool-factory/internal/config"
	"tool-factory/internal/database"
	"tool-factory/internal/executor"
	"tool-factory/internal/models"
	"tool-factory/internal/ranker"
	"tool-factory/internal/services"
	"tool-factory/internal/services/feed"
	"tool-factory/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

func testConfig() *config.Config {
	return &config.Config{
		Ranker: config.RankerConfig{RevenueWeight: 0.7, CTRWeight: 0.3, LookbackDays: 7},
		Planner: config.PlannerConfig{
			CloneThreshold:   0.75,
			WeeklyContentMin: 3,
			Platforms:        []string{models.PlatformYouTube},
			DefaultPrice:     29,
		},
		Executor: config.ExecutorConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		},
	}
}

type stubFeed struct {
	events []feed.Event
	err    error
	calls  int
}

func (s *stubFeed) FetchYesterday(ctx context.Context, asOf time.Time) ([]feed.Event, error) {
	s.calls++
	return s.events, s.err
}

type stubStorefront struct{ calls int }

func (s *stubStorefront) Publish(ctx context.Context, tool *models.Tool) (string, string, error) {
	s.calls++
	return fmt.Sprintf("prod-%d", s.calls), "https://store.example/checkout", nil
}

type stubCloner struct{ calls int }

func (s *stubCloner) Clone(sourceSlug, newSlug string) (*models.Tool, error) {
	s.calls++
	return &models.Tool{Slug: newSlug, ClonedFrom: sourceSlug}, nil
}

type stubGenerator struct{ calls int }

func (s *stubGenerator) Generate(ctx context.Context, tool *models.Tool, platform string) (*models.ContentItem, error) {
	s.calls++
	return &models.ContentItem{ToolID: tool.ID, Platform: platform, Status: models.ContentStatusPending}, nil
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

type fixture struct {
	store  *store.Store
	orch   *Orchestrator
	feed   *stubFeed
	poster *stubPoster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testConfig()
	st := newTestStore(t)
	f := &fixture{
		store:  st,
		feed:   &stubFeed{},
		poster: &stubPoster{},
	}
	ex := executor.New(st, &stubCloner{}, &stubStorefront{}, &stubGenerator{},
		map[string]executor.Poster{models.PlatformYouTube: f.poster}, cfg.Executor)
	ex.SetSleep(func(time.Duration) {})
	rk := ranker.New(st, cfg.Ranker)
	f.orch = New(st, rk, ex, f.feed, cfg)
	return f
}

func runDate() time.Time {
	return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
}

func seedTool(t *testing.T, st *store.Store, slug, status string) *models.Tool {
	t.Helper()

	tool := &models.Tool{Slug: slug, Name: slug, Template: "roi_calculator", Status: status}
	if err := st.CreateTool(tool); err != nil {
		t.Fatalf("seed tool %s: %v", slug, err)
	}
	return tool
}

func seedPending(t *testing.T, st *store.Store, toolID uint) *models.ContentItem {
	t.Helper()

	item := &models.ContentItem{ToolID: toolID, Platform: models.PlatformYouTube, Status: models.ContentStatusPending, VideoPath: "render.mp4"}
	if err := st.CreateContentItem(item); err != nil {
		t.Fatalf("seed content: %v", err)
	}
	return item
}

func TestCompletedRunIsNoOpWithoutForce(t *testing.T) {
	f := newFixture(t)

	first, err := f.orch.Run(context.Background(), runDate(), false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.NoOp {
		t.Fatal("first run reported no-op")
	}

	rec, err := f.store.GetRunRecord(runDate())
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !rec.Completed {
		t.Fatal("first run did not complete the record")
	}
	actionsBefore := len(rec.Actions)

	second, err := f.orch.Run(context.Background(), runDate(), false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.NoOp {
		t.Error("second run without --force should be a no-op")
	}
	if second.Text != first.Text {
		t.Errorf("no-op summary = %q, want prior summary %q", second.Text, first.Text)
	}
	if f.feed.calls != 1 {
		t.Errorf("feed fetched %d time(s), want 1 (no-op must not re-ingest)", f.feed.calls)
	}

	rec, err = f.store.GetRunRecord(runDate())
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if len(rec.Actions) != actionsBefore {
		t.Errorf("no-op appended actions: %d -> %d", actionsBefore, len(rec.Actions))
	}
}

func TestForcedRerunRetriesOnlyUnsettledActions(t *testing.T) {
	f := newFixture(t)

	tool := seedTool(t, f.store, "calc-a", models.ToolStatusPublished)
	seedPending(t, f.store, tool.ID)
	seedPending(t, f.store, tool.ID)

	// First item fails on credentials, second posts fine. The auth failure
	// leaves the item pending so a forced re-run picks it back up.
	f.poster.errs = []error{services.AuthExpired("youtube.post", errors.New("401"))}

	first, err := f.orch.Run(context.Background(), runDate(), false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.AnyFailed {
		t.Fatal("first run should report a failure")
	}

	second, err := f.orch.Run(context.Background(), runDate(), true)
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if second.NoOp {
		t.Fatal("forced run must not be a no-op")
	}
	if second.AnyFailed {
		t.Errorf("forced run still failing:\n%s", second.Text)
	}

	rec, err := f.store.GetRunRecord(runDate())
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !rec.Forced {
		t.Error("record not marked forced")
	}

	// generate_content for calc-a succeeded in the first run; the forced run
	// must skip it rather than append a second row for the same action key.
	generates := 0
	for _, a := range rec.Actions {
		if a.Kind == "generate_content" {
			generates++
		}
	}
	if generates != 1 {
		t.Errorf("generate_content appears %d time(s) in the record, want 1 (skipped on re-run)", generates)
	}
}

func TestRunFailsFastWhenLockHeld(t *testing.T) {
	f := newFixture(t)

	if err := f.store.AcquireRunLock(runDate()); err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	defer f.store.ReleaseRunLock(runDate())

	_, err := f.orch.Run(context.Background(), runDate(), false)
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
}

func TestStaleLockClearedByReleaseAllowsRun(t *testing.T) {
	f := newFixture(t)

	// A crashed run never reaches its deferred release, so the lock row
	// survives the process.
	if err := f.store.AcquireRunLock(runDate()); err != nil {
		t.Fatalf("acquire lock: %v", err)
	}

	if _, err := f.orch.Run(context.Background(), runDate(), false); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress while stale lock held", err)
	}

	// The unlock command clears the row; the date runs normally afterwards.
	if err := f.store.ReleaseRunLock(runDate()); err != nil {
		t.Fatalf("release stale lock: %v", err)
	}
	summary, err := f.orch.Run(context.Background(), runDate(), false)
	if err != nil {
		t.Fatalf("run after unlock: %v", err)
	}
	if summary.NoOp {
		t.Error("run after unlock unexpectedly a no-op")
	}
}

func TestRankingFailureAbortsWithRecordAtStarted(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t)
	poster := &stubPoster{}
	ex := executor.New(st, &stubCloner{}, &stubStorefront{}, &stubGenerator{},
		map[string]executor.Poster{models.PlatformYouTube: poster}, cfg.Executor)
	ex.SetSleep(func(time.Duration) {})

	// A ranker over a closed database handle makes ranking fail after
	// metrics ingestion already succeeded.
	deadDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open dead db: %v", err)
	}
	sqlDB, err := deadDB.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.Close()
	rk := ranker.New(store.New(deadDB), cfg.Ranker)

	orch := New(st, rk, ex, &stubFeed{}, cfg)

	_, err = orch.Run(context.Background(), runDate(), false)
	if !errors.Is(err, ranker.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}

	rec, err := st.GetRunRecord(runDate())
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Completed {
		t.Error("aborted run must not be completed")
	}
	if rec.Phase != models.PhaseStarted {
		t.Errorf("phase = %s, want started after planning-phase abort", rec.Phase)
	}
	if len(rec.Actions) != 0 {
		t.Errorf("aborted run recorded %d actions, want 0", len(rec.Actions))
	}
}

func TestFeedEventsIngestedOnceDespiteDuplicates(t *testing.T) {
	f := newFixture(t)

	tool := seedTool(t, f.store, "calc-a", models.ToolStatusPublished)
	yesterday := runDate().AddDate(0, 0, -1)
	f.feed.events = []feed.Event{
		{Kind: "sale", ToolSlug: "calc-a", Amount: 29, Key: "txn-1", Date: yesterday},
		{Kind: "sale", ToolSlug: "calc-a", Amount: 29, Key: "txn-1", Date: yesterday},
		{Kind: "click", ToolSlug: "calc-a", Key: "click-1", Date: yesterday},
		{Kind: "sale", ToolSlug: "no-such-tool", Amount: 10, Key: "txn-2", Date: yesterday},
	}

	if _, err := f.orch.Run(context.Background(), runDate(), false); err != nil {
		t.Fatalf("run: %v", err)
	}

	rows, err := f.store.GetMetrics(tool.ID, yesterday, yesterday)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d metric rows, want 1", len(rows))
	}
	if rows[0].Sales != 1 || rows[0].Revenue != 29 {
		t.Errorf("sales=%d revenue=%.2f, want 1 and 29.00 (duplicate must not double-count)",
			rows[0].Sales, rows[0].Revenue)
	}
	if rows[0].Clicks != 1 {
		t.Errorf("clicks = %d, want 1", rows[0].Clicks)
	}
}

func TestFeedOutageDegradesToStoredMetrics(t *testing.T) {
	f := newFixture(t)
	f.feed.err = services.NetworkError("feed.fetch", errors.New("connection refused"))

	summary, err := f.orch.Run(context.Background(), runDate(), false)
	if err != nil {
		t.Fatalf("run should survive a feed outage: %v", err)
	}
	if summary.NoOp {
		t.Error("run unexpectedly a no-op")
	}

	rec, err := f.store.GetRunRecord(runDate())
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !rec.Completed {
		t.Error("run did not complete despite feed outage being non-fatal")
	}
}
