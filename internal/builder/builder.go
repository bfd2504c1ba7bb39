package builder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"tool-factory/internal/models"
	"tool-factory/internal/store"
)

// Builder materializes tools from templates on disk and registers them
// as draft rows in the store.
type Builder struct {
	store        *store.Store
	templatesDir string
	toolsDir     string
}

// New builds a Builder rooted at the template and output directories.
func New(st *store.Store, templatesDir, toolsDir string) *Builder {
	return &Builder{store: st, templatesDir: templatesDir, toolsDir: toolsDir}
}

type toolConfig struct {
	Slug     string `json:"slug"`
	Template string `json:"template"`
	Niche    string `json:"niche"`
	Version  int    `json:"version"`
}

// Build copies the named template into the tools directory under slug and
// creates the draft Tool row. The build path being set marks the build as
// completed for the planner.
func (b *Builder) Build(slug, template, niche string, price float64) (*models.Tool, error) {
	if _, err := b.store.GetTool(slug); err == nil {
		return nil, fmt.Errorf("tool %q already exists", slug)
	}

	templatePath := filepath.Join(b.templatesDir, template)
	if _, err := os.Stat(templatePath); err != nil {
		return nil, fmt.Errorf("template %q not found in %s", template, b.templatesDir)
	}

	outputPath := filepath.Join(b.toolsDir, slug)
	if _, err := os.Stat(outputPath); err == nil {
		return nil, fmt.Errorf("output %s already exists", outputPath)
	}

	if err := copyDir(templatePath, outputPath); err != nil {
		return nil, fmt.Errorf("copy template: %w", err)
	}

	cfg := toolConfig{Slug: slug, Template: template, Niche: niche, Version: 1}
	raw, _ := json.MarshalIndent(cfg, "", "  ")
	if err := os.WriteFile(filepath.Join(outputPath, "config.json"), raw, 0o644); err != nil {
		return nil, fmt.Errorf("write tool config: %w", err)
	}

	tool := &models.Tool{
		Slug:      slug,
		Name:      titleFromSlug(slug),
		Template:  template,
		Niche:     niche,
		Price:     price,
		Status:    models.ToolStatusDraft,
		BuildPath: outputPath,
	}
	if err := b.store.CreateTool(tool); err != nil {
		return nil, err
	}
	return tool, nil
}

// Clone rebuilds the source tool's template under a new slug, recording the
// lineage so the planner can see a clone already exists this week.
func (b *Builder) Clone(sourceSlug, newSlug string) (*models.Tool, error) {
	source, err := b.store.GetTool(sourceSlug)
	if err != nil {
		return nil, fmt.Errorf("clone source %q not found", sourceSlug)
	}

	tool, err := b.Build(newSlug, source.Template, source.Niche, source.Price)
	if err != nil {
		return nil, err
	}

	tool.ClonedFrom = source.Slug
	if err := b.store.SaveTool(tool); err != nil {
		return nil, err
	}
	return tool, nil
}

func titleFromSlug(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
