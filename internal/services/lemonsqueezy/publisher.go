package lemonsqueezy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tool-factory/internal/models"
	"tool-factory/internal/services"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.lemonsqueezy.com"

// Publisher creates storefront products via the LemonSqueezy JSON:API.
type Publisher struct {
	apiKey  string
	storeID string
	client  *resty.Client
}

// PublishResult carries the storefront identifiers for a published tool.
type PublishResult struct {
	ProductID   string
	CheckoutURL string
}

// NewPublisher builds a publisher with the store credentials.
func NewPublisher(apiKey, storeID string) *Publisher {
	client := resty.New()
	client.SetBaseURL(defaultBaseURL)
	client.SetTimeout(30 * time.Second)

	return &Publisher{
		apiKey:  apiKey,
		storeID: storeID,
		client:  client,
	}
}

// SetBaseURL overrides the API endpoint (tests point it at a local server).
func (p *Publisher) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

type productResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URLs struct {
				CheckoutURL string `json:"checkout_url"`
			} `json:"urls"`
		} `json:"attributes"`
	} `json:"data"`
}

// Publish creates a published product for the tool and returns its
// storefront identifiers.
func (p *Publisher) Publish(ctx context.Context, tool *models.Tool) (*PublishResult, error) {
	const op = "lemonsqueezy.publish"

	if p.apiKey == "" || p.storeID == "" {
		return nil, services.NewAPIError(services.KindInvalid, op,
			fmt.Errorf("LEMONSQUEEZY_API_KEY and LEMONSQUEEZY_STORE_ID required"))
	}

	niche := tool.Niche
	if niche == "" {
		niche = "general"
	}

	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "products",
			"attributes": map[string]interface{}{
				"name":            tool.Name,
				"price":           int(tool.Price * 100),
				"price_formatted": fmt.Sprintf("$%.2f", tool.Price),
				"description":     fmt.Sprintf("A simple %s tool for %s", tool.Slug, niche),
				"slug":            tool.Slug,
				"status":          "published",
			},
			"relationships": map[string]interface{}{
				"store": map[string]interface{}{
					"data": map[string]interface{}{"type": "stores", "id": p.storeID},
				},
			},
		},
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.apiKey).
		SetHeader("Content-Type", "application/vnd.api+json").
		SetHeader("Accept", "application/vnd.api+json").
		SetBody(body).
		Post("/v1/products")
	if err != nil {
		return nil, services.NetworkError(op, err)
	}

	if resp.StatusCode() != 200 && resp.StatusCode() != 201 {
		kind := services.ClassifyStatus(resp.StatusCode())
		return nil, services.NewAPIError(kind, op,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.String()))
	}

	var result productResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, services.NewAPIError(services.KindOther, op,
			fmt.Errorf("decode response: %w", err))
	}

	return &PublishResult{
		ProductID:   result.Data.ID,
		CheckoutURL: result.Data.Attributes.URLs.CheckoutURL,
	}, nil
}
