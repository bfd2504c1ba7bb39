package pinterest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tool-factory/internal/models"
	"tool-factory/internal/services"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.pinterest.com"

// Poster creates pins via the Pinterest v5 API.
type Poster struct {
	accessToken string
	boardID     string
	client      *resty.Client
}

// NewPoster builds a poster for the configured board.
func NewPoster(accessToken, boardID string) *Poster {
	client := resty.New()
	client.SetBaseURL(defaultBaseURL)
	client.SetTimeout(30 * time.Second)

	return &Poster{
		accessToken: accessToken,
		boardID:     boardID,
		client:      client,
	}
}

// SetBaseURL overrides the API endpoint for tests.
func (p *Poster) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

type pinResponse struct {
	ID string `json:"id"`
}

// Post creates a pin for the content item and returns the pin id.
func (p *Poster) Post(ctx context.Context, item *models.ContentItem) (string, error) {
	const op = "pinterest.post"

	if p.accessToken == "" {
		return "", services.AuthExpired(op, fmt.Errorf("PINTEREST_ACCESS_TOKEN not set"))
	}

	body := map[string]interface{}{
		"title":       fmt.Sprintf("Free %s - Calculate Your Profits", item.Tool.Name),
		"description": item.Caption,
		"link":        item.Tool.LandingURL,
		"board_id":    p.boardID,
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/v5/pins")
	if err != nil {
		return "", services.NetworkError(op, err)
	}

	if resp.StatusCode() != 200 && resp.StatusCode() != 201 {
		kind := services.ClassifyStatus(resp.StatusCode())
		return "", services.NewAPIError(kind, op,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.String()))
	}

	var result pinResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", services.NewAPIError(services.KindOther, op,
			fmt.Errorf("decode response: %w", err))
	}
	return result.ID, nil
}
