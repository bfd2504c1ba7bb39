package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"tool-factory/internal/config"
	"tool-factory/internal/models"
	"tool-factory/internal/planner"
	"tool-factory/internal/services"
	"tool-factory/internal/store"
)

// ToolCloner builds a copy of an existing tool under a new slug.
type ToolCloner interface {
	Clone(sourceSlug, newSlug string) (*models.Tool, error)
}

// Storefront publishes a tool as a purchasable product.
type Storefront interface {
	Publish(ctx context.Context, tool *models.Tool) (productID, checkoutURL string, err error)
}

// Generator produces a promotional content item for (tool, platform).
type Generator interface {
	Generate(ctx context.Context, tool *models.Tool, platform string) (*models.ContentItem, error)
}

// Poster uploads a content item to its social platform.
type Poster interface {
	Post(ctx context.Context, item *models.ContentItem) (externalID string, err error)
}

// Executor runs a plan against the external collaborators with retry,
// backoff and per-date idempotency.
type Executor struct {
	store      *store.Store
	cloner     ToolCloner
	storefront Storefront
	generator  Generator
	posters    map[string]Poster
	cfg        config.ExecutorConfig

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(time.Duration)

	// Notify, when set, receives every settled action outcome.
	Notify func(kind, target, outcome string)
}

// New wires an executor over the store and collaborators.
func New(st *store.Store, cloner ToolCloner, storefront Storefront, generator Generator, posters map[string]Poster, cfg config.ExecutorConfig) *Executor {
	return &Executor{
		store:      st,
		cloner:     cloner,
		storefront: storefront,
		generator:  generator,
		posters:    posters,
		cfg:        cfg,
		sleep:      time.Sleep,
	}
}

// SetSleep overrides the backoff sleeper (tests).
func (e *Executor) SetSleep(fn func(time.Duration)) {
	e.sleep = fn
}

// Execute runs each planned action in order against its collaborator.
// Actions already recorded as succeeded for the date are skipped; each
// outcome is persisted immediately so a crash mid-run loses at most the
// in-flight action. One action's failure never aborts the rest of the plan.
func (e *Executor) Execute(ctx context.Context, plan planner.Plan, date time.Time) (*models.RunRecord, error) {
	rec, err := e.store.OpenRunRecord(date, false)
	if err != nil {
		return nil, err
	}

	succeeded, err := e.store.SucceededActionKeys(date)
	if err != nil {
		return nil, err
	}

	seq := len(rec.Actions)
	for _, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			// Clean abort between actions; the record stays resumable.
			log.Printf("Execution aborted before %s: %v", action.Key(), err)
			return rec, err
		}

		if succeeded[action.Key()] {
			log.Printf("Skipping %s: already succeeded on %s", action.Key(), rec.Date)
			e.notify(action, models.OutcomeSkipped)
			continue
		}

		attempts, execErr := e.runWithRetry(ctx, action)

		outcome := models.OutcomeSucceeded
		errMsg := ""
		if execErr != nil {
			outcome = models.OutcomeFailed
			errMsg = execErr.Error()
			log.Printf("Action %s failed after %d attempt(s): %v", action.Key(), attempts, execErr)
		} else {
			log.Printf("Action %s succeeded (%d attempt(s))", action.Key(), attempts)
		}

		seq++
		runAction := &models.RunAction{
			Seq:      seq,
			Kind:     string(action.Kind),
			Target:   action.Target,
			Outcome:  outcome,
			Attempts: attempts,
			Error:    errMsg,
		}
		if err := e.store.AppendRunAction(rec, runAction); err != nil {
			return rec, fmt.Errorf("persist action outcome: %w", err)
		}
		e.notify(action, outcome)

		// A permanently unusable item (missing render, bad payload) is
		// marked failed; anything else stays pending so the next run
		// retries it.
		if execErr != nil && action.Kind == planner.KindPostContent &&
			services.KindOf(execErr) == services.KindInvalid {
			if err := e.store.MarkContentFailed(action.ContentItemID); err != nil {
				log.Printf("Warning: %v", err)
			}
		}
	}

	return rec, nil
}

// runWithRetry dispatches one action, retrying transient collaborator
// failures with exponential backoff up to the configured ceiling.
// Non-transient failures fail immediately.
func (e *Executor) runWithRetry(ctx context.Context, action planner.Action) (int, error) {
	delay := e.cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		lastErr = e.dispatch(ctx, action)
		if lastErr == nil {
			return attempt, nil
		}
		if !services.IsTransient(lastErr) {
			return attempt, lastErr
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		log.Printf("Transient failure on %s (attempt %d/%d), retrying in %v: %v",
			action.Key(), attempt, e.cfg.MaxAttempts, delay, lastErr)
		e.sleep(delay)
		delay *= 2
		if delay > e.cfg.MaxDelay {
			delay = e.cfg.MaxDelay
		}

		if err := ctx.Err(); err != nil {
			return attempt, err
		}
	}

	return e.cfg.MaxAttempts, lastErr
}

func (e *Executor) dispatch(ctx context.Context, action planner.Action) error {
	switch action.Kind {
	case planner.KindBuildTool:
		_, err := e.cloner.Clone(action.CloneOf, action.Target)
		return err

	case planner.KindPublishProduct:
		tool, err := e.store.GetTool(action.ToolSlug)
		if err != nil {
			return fmt.Errorf("tool %q not found", action.ToolSlug)
		}
		productID, checkoutURL, err := e.storefront.Publish(ctx, tool)
		if err != nil {
			return err
		}
		tool.Status = models.ToolStatusPublished
		tool.ProductID = productID
		tool.LandingURL = checkoutURL
		return e.store.SaveTool(tool)

	case planner.KindGenerateContent:
		tool, err := e.store.GetTool(action.ToolSlug)
		if err != nil {
			return fmt.Errorf("tool %q not found", action.ToolSlug)
		}
		for _, platform := range action.Platforms {
			item, err := e.generator.Generate(ctx, tool, platform)
			if err != nil {
				return err
			}
			if err := e.store.CreateContentItem(item); err != nil {
				return err
			}
		}
		return nil

	case planner.KindPostContent:
		item, err := e.store.GetContentItem(action.ContentItemID)
		if err != nil {
			return err
		}
		poster, ok := e.posters[item.Platform]
		if !ok {
			return services.NewAPIError(services.KindInvalid, "executor.post",
				fmt.Errorf("no poster configured for platform %q", item.Platform))
		}
		externalID, err := poster.Post(ctx, item)
		if err != nil {
			return err
		}
		return e.store.MarkContentPosted(item.ID, externalID, time.Now())
	}

	return fmt.Errorf("unknown action kind %q", action.Kind)
}

func (e *Executor) notify(action planner.Action, outcome string) {
	if e.Notify != nil {
		e.Notify(string(action.Kind), action.Target, outcome)
	}
}
