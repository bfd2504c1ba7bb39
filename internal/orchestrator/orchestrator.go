package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tool-factory/internal/config"
	"tool-factory/internal/executor"
	"tool-factory/internal/models"
	"tool-factory/internal/planner"
	"tool-factory/internal/ranker"
	"tool-factory/internal/services/feed"
	"tool-factory/internal/store"
)

// ErrRunInProgress mirrors the store lock failure for callers.
var ErrRunInProgress = store.ErrRunInProgress

// Feed supplies yesterday's raw sale/click/conversion events.
type Feed interface {
	FetchYesterday(ctx context.Context, asOf time.Time) ([]feed.Event, error)
}

// RunEvent is a live progress notification consumed by the dashboard.
type RunEvent struct {
	Date    string    `json:"date"`
	Kind    string    `json:"kind"`
	Target  string    `json:"target"`
	Outcome string    `json:"outcome"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// EventSink receives run events; the websocket hub implements it.
type EventSink interface {
	Publish(event RunEvent)
}

// Summary is the human-readable result of one daily run.
type Summary struct {
	Date      string
	NoOp      bool
	AnyFailed bool
	Text      string
}

// Orchestrator sequences metrics refresh, ranking, planning and execution
// for one calendar day, exactly once per date.
type Orchestrator struct {
	store    *store.Store
	ranker   *ranker.Ranker
	executor *executor.Executor
	feed     Feed
	cfg      *config.Config
	sink     EventSink
}

// New wires the daily loop.
func New(st *store.Store, rk *ranker.Ranker, ex *executor.Executor, fd Feed, cfg *config.Config) *Orchestrator {
	return &Orchestrator{store: st, ranker: rk, executor: ex, feed: fd, cfg: cfg}
}

// SetEventSink attaches a live event consumer (dashboard websocket hub).
func (o *Orchestrator) SetEventSink(sink EventSink) {
	o.sink = sink
	o.executor.Notify = func(kind, target, outcome string) {
		o.emit(RunEvent{Kind: kind, Target: target, Outcome: outcome, At: time.Now()})
	}
}

// Run executes the daily cycle for date. A completed record without force
// is a no-op returning the prior summary; a concurrent invocation for the
// same date fails fast with ErrRunInProgress.
func (o *Orchestrator) Run(ctx context.Context, date time.Time, force bool) (*Summary, error) {
	day := date.Format(models.DateLayout)

	if err := o.store.AcquireRunLock(date); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.store.ReleaseRunLock(date); err != nil {
			log.Printf("Warning: release run lock: %v", err)
		}
	}()

	existing, err := o.store.GetRunRecord(date)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Completed && !force {
		log.Printf("Run for %s already completed, nothing to do (use --force to re-run)", day)
		return &Summary{Date: day, NoOp: true, AnyFailed: anyFailed(existing), Text: existing.Summary}, nil
	}

	rec, err := o.store.OpenRunRecord(date, force)
	if err != nil {
		return nil, err
	}
	o.emit(RunEvent{Date: day, Kind: "run", Outcome: "started", At: time.Now()})

	// Phase 1: fold yesterday's feed into the metrics store. Feed outages
	// degrade to ranking on stored metrics rather than aborting the day.
	o.refreshMetrics(ctx, date)
	if err := o.store.SetRunPhase(rec, models.PhaseMetricsLoaded); err != nil {
		return nil, err
	}

	// Phase 2: rank. A dead store is fatal before anything executes.
	ranking, err := o.ranker.Rank(date, o.cfg.Ranker.LookbackDays)
	if err != nil {
		o.rewindToStarted(rec)
		return nil, fmt.Errorf("ranking failed, aborting run: %w", err)
	}

	// Phase 3: plan from an explicit backlog snapshot.
	backlog, err := o.store.Snapshot(date)
	if err != nil {
		o.rewindToStarted(rec)
		return nil, fmt.Errorf("backlog snapshot failed, aborting run: %w", err)
	}
	plan := planner.Build(date, ranking, backlog, o.cfg.Planner)
	if err := o.store.SetRunPhase(rec, models.PhasePlanned); err != nil {
		return nil, err
	}
	log.Printf("Planned %d action(s) for %s", len(plan.Actions), day)

	// Phase 4: execute.
	if err := o.store.SetRunPhase(rec, models.PhaseDispatched); err != nil {
		return nil, err
	}
	rec, execErr := o.executor.Execute(ctx, plan, date)
	if execErr != nil && (errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded)) {
		// Aborted between actions: leave the record open so a forced
		// re-run resumes from the unattempted actions.
		o.emit(RunEvent{Date: day, Kind: "run", Outcome: "aborted", At: time.Now()})
		return &Summary{Date: day, AnyFailed: true, Text: buildSummary(day, plan, rec)}, execErr
	}
	if execErr != nil {
		return nil, execErr
	}

	text := buildSummary(day, plan, rec)
	if err := o.store.CompleteRun(rec, text); err != nil {
		return nil, err
	}
	o.emit(RunEvent{Date: day, Kind: "run", Outcome: "completed", At: time.Now()})

	return &Summary{Date: day, AnyFailed: anyFailed(rec), Text: text}, nil
}

// refreshMetrics ingests yesterday's raw events, skipping duplicates.
func (o *Orchestrator) refreshMetrics(ctx context.Context, date time.Time) {
	if o.feed == nil {
		return
	}

	events, err := o.feed.FetchYesterday(ctx, date)
	if err != nil {
		log.Printf("Warning: analytics feed unavailable, ranking on stored metrics: %v", err)
		return
	}

	ingested, duplicates := 0, 0
	for _, ev := range events {
		tool, err := o.store.GetTool(ev.ToolSlug)
		if err != nil {
			log.Printf("Warning: feed event for unknown tool %q, skipping", ev.ToolSlug)
			continue
		}

		switch ev.Kind {
		case "sale":
			err = o.store.RecordSale(tool.ID, ev.Date, ev.Amount, ev.Key)
		case "click":
			err = o.store.RecordClick(tool.ID, ev.Date, ev.Key)
		case "conversion":
			err = o.store.RecordConversion(tool.ID, ev.Date, ev.Key)
		default:
			log.Printf("Warning: unknown feed event kind %q, skipping", ev.Kind)
			continue
		}

		if errors.Is(err, store.ErrDuplicateEvent) {
			duplicates++
			continue
		}
		if err != nil {
			log.Printf("Warning: ingest event %s: %v", ev.Key, err)
			continue
		}
		ingested++
	}

	log.Printf("Metrics refresh: %d event(s) ingested, %d duplicate(s) skipped", ingested, duplicates)
}

// rewindToStarted rewinds an aborted run so nothing beyond the opened
// record survives a failure before execution.
func (o *Orchestrator) rewindToStarted(rec *models.RunRecord) {
	if err := o.store.SetRunPhase(rec, models.PhaseStarted); err != nil {
		log.Printf("Warning: rewind run phase: %v", err)
	}
}

func (o *Orchestrator) emit(event RunEvent) {
	if o.sink != nil {
		o.sink.Publish(event)
	}
}

// anyFailed reports whether any action's latest outcome is a failure. A
// forced re-run that fixed an earlier failure therefore reads as a success.
func anyFailed(rec *models.RunRecord) bool {
	latest := make(map[string]string, len(rec.Actions))
	for _, a := range rec.Actions {
		latest[a.ActionKey()] = a.Outcome
	}
	for _, outcome := range latest {
		if outcome == models.OutcomeFailed {
			return true
		}
	}
	return false
}

// buildSummary enumerates every attempted action with its outcome.
func buildSummary(day string, plan planner.Plan, rec *models.RunRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily run %s: %d action(s) planned\n", day, len(plan.Actions))

	succeeded, failed := 0, 0
	for _, a := range rec.Actions {
		switch a.Outcome {
		case models.OutcomeSucceeded:
			succeeded++
		case models.OutcomeFailed:
			failed++
		}
		fmt.Fprintf(&b, "  [%s] %s %s (%d attempt(s))", a.Outcome, a.Kind, a.Target, a.Attempts)
		if a.Error != "" {
			fmt.Fprintf(&b, ": %s", a.Error)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%d succeeded, %d failed", succeeded, failed)
	return b.String()
}
