package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"tool-factory/internal/models"
	"tool-factory/internal/services"

	"github.com/go-resty/resty/v2"
)

const defaultUploadURL = "https://www.googleapis.com/upload/youtube/v3"

// Poster uploads shorts to YouTube via the Data API v3.
type Poster struct {
	accessToken string
	client      *resty.Client
}

// NewPoster builds a poster using a pre-authorized OAuth access token.
func NewPoster(accessToken string) *Poster {
	client := resty.New()
	client.SetBaseURL(defaultUploadURL)
	client.SetTimeout(2 * time.Minute)

	return &Poster{accessToken: accessToken, client: client}
}

// SetBaseURL overrides the upload endpoint for tests.
func (p *Poster) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

type videoResponse struct {
	ID string `json:"id"`
}

// Post uploads the content item's rendered video and returns the video id.
func (p *Poster) Post(ctx context.Context, item *models.ContentItem) (string, error) {
	const op = "youtube.post"

	if p.accessToken == "" {
		return "", services.AuthExpired(op, fmt.Errorf("YOUTUBE_ACCESS_TOKEN not set"))
	}

	video, err := os.ReadFile(item.VideoPath)
	if err != nil {
		return "", services.NewAPIError(services.KindInvalid, op,
			fmt.Errorf("read video %s: %w", item.VideoPath, err))
	}

	title := fmt.Sprintf("%s - Free Calculator", item.Tool.Name)
	description := item.Caption
	if item.Hashtags != "" {
		description += "\n\n" + item.Hashtags
	}

	snippet := map[string]interface{}{
		"snippet": map[string]interface{}{
			"title":       title,
			"description": description,
			"tags":        strings.Fields(strings.ReplaceAll(item.Hashtags, "#", "")),
			"categoryId":  "22",
		},
		"status": map[string]interface{}{
			"privacyStatus":           "public",
			"selfDeclaredMadeForKids": false,
		},
	}
	meta, _ := json.Marshal(snippet)

	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.accessToken).
		SetQueryParam("part", "snippet,status").
		SetQueryParam("uploadType", "multipart").
		SetMultipartField("metadata", "", "application/json", strings.NewReader(string(meta))).
		SetMultipartField("video", "video.mp4", "video/mp4", strings.NewReader(string(video))).
		Post("/videos")
	if err != nil {
		return "", services.NetworkError(op, err)
	}

	if resp.StatusCode() != 200 {
		kind := services.ClassifyStatus(resp.StatusCode())
		return "", services.NewAPIError(kind, op,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.String()))
	}

	var result videoResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", services.NewAPIError(services.KindOther, op,
			fmt.Errorf("decode response: %w", err))
	}
	return result.ID, nil
}
