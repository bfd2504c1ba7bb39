package content

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"tool-factory/internal/models"
	"tool-factory/internal/services"
)

// Generator renders promotional demo videos for tools with ffmpeg and
// produces matching captions and hashtags.
type Generator struct {
	rendersDir string
	ffmpegPath string
}

// NewGenerator builds a generator writing into rendersDir.
func NewGenerator(rendersDir string) *Generator {
	return &Generator{rendersDir: rendersDir, ffmpegPath: "ffmpeg"}
}

// Generate renders one promotional video for (tool, platform) and returns
// the unsaved content item. Rendering failures classify as KindOther; they
// are not retried since ffmpeg fails the same way on the same input.
func (g *Generator) Generate(ctx context.Context, tool *models.Tool, platform string) (*models.ContentItem, error) {
	const op = "content.generate"

	if err := os.MkdirAll(g.rendersDir, 0o755); err != nil {
		return nil, services.NewAPIError(services.KindOther, op, err)
	}

	stamp := time.Now().Format("20060102150405")
	videoPath := filepath.Join(g.rendersDir, fmt.Sprintf("%s_%s_%s.mp4", tool.Slug, platform, stamp))

	if err := g.renderSlideshow(ctx, tool.Name, videoPath); err != nil {
		return nil, services.NewAPIError(services.KindOther, op, err)
	}

	return &models.ContentItem{
		ToolID:    tool.ID,
		Platform:  platform,
		VideoPath: videoPath,
		Caption:   Caption(tool),
		Hashtags:  Hashtags(tool),
		Status:    models.ContentStatusPending,
	}, nil
}

// renderSlideshow produces a short vertical clip. Without pre-rendered
// slides it falls back to a solid-color card, which is enough for the
// caption-driven platforms.
func (g *Generator) renderSlideshow(ctx context.Context, toolName, outputPath string) error {
	cmd := exec.CommandContext(ctx, g.ffmpegPath, "-y",
		"-f", "lavfi",
		"-i", "color=c=#667eea:s=1080x1920:d=5",
		"-vf", fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=64:x=(w-text_w)/2:y=(h-text_h)/2", escapeDrawtext(toolName)),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg render: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeDrawtext(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, `:`, `\:`)
	return s
}

// Caption builds the promotional caption for a tool.
func Caption(tool *models.Tool) string {
	return fmt.Sprintf("🔥 Free %s - Link in bio!\n\n"+
		"Stop guessing your profits. This free tool does the math for you.\n\n"+
		"✅ Fast\n✅ Free\n✅ Accurate\n\n"+
		"Check the link in my bio to try it now!", tool.Name)
}

// Hashtags builds the hashtag line for a tool.
func Hashtags(tool *models.Tool) string {
	niche := tool.Niche
	if niche == "" {
		niche = "business"
	}
	return fmt.Sprintf("#%s #%s #free #calculator #tool #sidehustle",
		strings.ReplaceAll(tool.Slug, "-", ""), niche)
}
