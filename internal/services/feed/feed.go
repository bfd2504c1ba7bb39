package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tool-factory/internal/services"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Event is one raw sale/click/conversion record from the analytics feed.
type Event struct {
	Kind     string    `json:"kind"` // sale, click, conversion
	ToolSlug string    `json:"tool_slug"`
	Amount   float64   `json:"amount"`
	Key      string    `json:"key"` // external transaction id (idempotency key)
	Date     time.Time `json:"date"`
}

// Client pulls yesterday's performance events from the storefront's
// orders API and the landing-page analytics endpoint.
type Client struct {
	apiKey  string
	storeID string
	client  *resty.Client
}

// NewClient builds a feed client against the storefront credentials.
func NewClient(baseURL, apiKey, storeID string) *Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)

	return &Client{apiKey: apiKey, storeID: storeID, client: client}
}

type rawEvent struct {
	Kind     string  `json:"kind"`
	ToolSlug string  `json:"tool_slug"`
	Amount   float64 `json:"amount"`
	TxnID    string  `json:"txn_id"`
	Date     string  `json:"date"`
}

type eventsResponse struct {
	Events []rawEvent `json:"events"`
}

// FetchYesterday returns all events for the day before asOf. Events missing
// a transaction id get a generated key so ingestion stays idempotent per
// fetched record.
func (c *Client) FetchYesterday(ctx context.Context, asOf time.Time) ([]Event, error) {
	const op = "feed.fetch"

	day := asOf.AddDate(0, 0, -1).Format("2006-01-02")

	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetQueryParam("store_id", c.storeID).
		SetQueryParam("date", day).
		Get("/v1/events")
	if err != nil {
		return nil, services.NetworkError(op, err)
	}

	if resp.StatusCode() != 200 {
		kind := services.ClassifyStatus(resp.StatusCode())
		return nil, services.NewAPIError(kind, op,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.String()))
	}

	var result eventsResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, services.NewAPIError(services.KindOther, op,
			fmt.Errorf("decode response: %w", err))
	}

	events := make([]Event, 0, len(result.Events))
	for _, raw := range result.Events {
		date, err := time.Parse("2006-01-02", raw.Date)
		if err != nil {
			date = asOf.AddDate(0, 0, -1)
		}
		key := raw.TxnID
		if key == "" {
			key = uuid.NewString()
		}
		events = append(events, Event{
			Kind:     raw.Kind,
			ToolSlug: raw.ToolSlug,
			Amount:   raw.Amount,
			Key:      key,
			Date:     date,
		})
	}
	return events, nil
}
