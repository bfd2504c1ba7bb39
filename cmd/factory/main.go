package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"tool-factory/internal/builder"
	"tool-factory/internal/config"
	"tool-factory/internal/database"
	"tool-factory/internal/executor"
	"tool-factory/internal/models"
	"tool-factory/internal/orchestrator"
	"tool-factory/internal/ranker"
	"tool-factory/internal/services/content"
	"tool-factory/internal/services/feed"
	"tool-factory/internal/services/lemonsqueezy"
	"tool-factory/internal/services/pinterest"
	"tool-factory/internal/services/youtube"
	"tool-factory/internal/store"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	rootCmd := &cobra.Command{
		Use:           "factory",
		Short:         "Micro-tool and content funnel automation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(buildToolCmd())
	rootCmd.AddCommand(publishProductCmd())
	rootCmd.AddCommand(generateContentCmd())
	rootCmd.AddCommand(postContentCmd())
	rootCmd.AddCommand(analyticsReportCmd())
	rootCmd.AddCommand(dailyRunCmd())
	rootCmd.AddCommand(unlockCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app bundles everything a command needs after wiring.
type app struct {
	cfg   *config.Config
	store *store.Store
}

func openApp() (*app, error) {
	cfg := config.Load()
	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: store.New(db)}, nil
}

func (a *app) ranker() *ranker.Ranker {
	return ranker.New(a.store, a.cfg.Ranker)
}

func (a *app) builder() *builder.Builder {
	return builder.New(a.store, a.cfg.TemplatesDir, a.cfg.ToolsDir)
}

func (a *app) generator() *content.Generator {
	return content.NewGenerator(a.cfg.RendersDir)
}

func (a *app) posters() map[string]executor.Poster {
	return map[string]executor.Poster{
		models.PlatformYouTube:   youtube.NewPoster(a.cfg.YouTubeToken),
		models.PlatformPinterest: pinterest.NewPoster(a.cfg.PinterestAccessToken, a.cfg.PinterestBoardID),
	}
}

func (a *app) orchestrator() *orchestrator.Orchestrator {
	ex := executor.New(
		a.store,
		a.builder(),
		&storefrontAdapter{publisher: a.publisher()},
		a.generator(),
		a.posters(),
		a.cfg.Executor,
	)
	fd := feed.NewClient("https://api.lemonsqueezy.com",
		a.cfg.LemonSqueezyAPIKey, a.cfg.LemonSqueezyStoreID)
	return orchestrator.New(a.store, a.ranker(), ex, fd, a.cfg)
}

func (a *app) publisher() *lemonsqueezy.Publisher {
	return lemonsqueezy.NewPublisher(a.cfg.LemonSqueezyAPIKey, a.cfg.LemonSqueezyStoreID)
}

// storefrontAdapter narrows the LemonSqueezy client to the executor's
// Storefront contract.
type storefrontAdapter struct {
	publisher *lemonsqueezy.Publisher
}

func (s *storefrontAdapter) Publish(ctx context.Context, tool *models.Tool) (string, string, error) {
	result, err := s.publisher.Publish(ctx, tool)
	if err != nil {
		return "", "", err
	}
	return result.ProductID, result.CheckoutURL, nil
}

func parseDateFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Now(), nil
	}
	d, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return d, nil
}
