package ranker

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"tool-factory/internal/config"
	"tool-factory/internal/models"
	"tool-factory/internal/store"
)

// ErrStoreUnavailable signals that the metrics store could not be read at
// all. Sparse data is not an error: tools without activity rank last with
// score zero.
var ErrStoreUnavailable = errors.New("metrics store unreachable")

// ToolScore is one ranked row of derived performance metrics.
type ToolScore struct {
	Tool           models.Tool `json:"tool"`
	Revenue        float64     `json:"revenue"`
	Sales          int         `json:"sales"`
	Clicks         int         `json:"clicks"`
	Conversions    int         `json:"conversions"`
	CTR            float64     `json:"ctr"`
	ConversionRate float64     `json:"conversion_rate"`
	Score          float64     `json:"score"`
}

// Ranker computes the daily performance ranking from the metrics store.
type Ranker struct {
	store   *store.Store
	weights config.RankerConfig
}

// New builds a ranker with the configured score weights.
func New(st *store.Store, weights config.RankerConfig) *Ranker {
	return &Ranker{store: st, weights: weights}
}

// Rank aggregates the lookback window ending at asOf and returns every tool
// ordered by composite score. The output order is deterministic: score desc,
// then revenue desc, then slug asc.
func (r *Ranker) Rank(asOf time.Time, lookbackDays int) ([]ToolScore, error) {
	if lookbackDays <= 0 {
		lookbackDays = r.weights.LookbackDays
	}

	tools, err := r.store.ListTools()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	from := asOf.AddDate(0, 0, -(lookbackDays - 1))
	rows, err := r.store.MetricsInWindow(from, asOf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	scores := Compute(tools, rows, r.weights)
	return scores, nil
}

// Compute derives per-tool metrics and the composite score from raw rows.
// Pure function: identical inputs always yield identically ordered output.
func Compute(tools []models.Tool, rows []models.DailyMetric, weights config.RankerConfig) []ToolScore {
	byTool := make(map[uint]*ToolScore, len(tools))
	scores := make([]ToolScore, 0, len(tools))
	for _, t := range tools {
		scores = append(scores, ToolScore{Tool: t})
	}
	for i := range scores {
		byTool[scores[i].Tool.ID] = &scores[i]
	}

	for _, row := range rows {
		ts, ok := byTool[row.ToolID]
		if !ok {
			continue
		}
		ts.Revenue += row.Revenue
		ts.Sales += row.Sales
		ts.Clicks += row.Clicks
		ts.Conversions += row.Conversions
	}

	var maxRevenue, maxCTR float64
	for i := range scores {
		ts := &scores[i]
		if ts.Clicks > 0 {
			ts.CTR = float64(ts.Conversions) / float64(ts.Clicks)
			ts.ConversionRate = float64(ts.Sales) / float64(ts.Clicks)
		}
		if ts.Revenue > maxRevenue {
			maxRevenue = ts.Revenue
		}
		if ts.CTR > maxCTR {
			maxCTR = ts.CTR
		}
	}

	for i := range scores {
		ts := &scores[i]
		var normRevenue, normCTR float64
		if maxRevenue > 0 {
			normRevenue = ts.Revenue / maxRevenue
		}
		if maxCTR > 0 {
			normCTR = ts.CTR / maxCTR
		}
		ts.Score = weights.RevenueWeight*normRevenue + weights.CTRWeight*normCTR
	}

	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		return a.Tool.Slug < b.Tool.Slug
	})

	return scores
}
