package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tool-factory/internal/api"
	"tool-factory/internal/models"
	"tool-factory/internal/report"
	"tool-factory/internal/services"
	"tool-factory/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the database and working folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			for _, dir := range []string{a.cfg.TemplatesDir, a.cfg.ToolsDir, a.cfg.RendersDir} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}
			fmt.Printf("Database initialized at %s\n", a.cfg.DatabasePath)
			fmt.Println("Folders created")
			return nil
		},
	}
}

func buildToolCmd() *cobra.Command {
	var template, slug, niche string
	var price float64

	cmd := &cobra.Command{
		Use:   "build_tool",
		Short: "Build a tool from a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			tool, err := a.builder().Build(slug, template, niche, price)
			if err != nil {
				return err
			}
			fmt.Printf("Built %q from template %q\n", tool.Slug, tool.Template)
			fmt.Printf("Location: %s\n", tool.BuildPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&template, "template", "", "template name")
	cmd.Flags().StringVar(&slug, "slug", "", "tool slug")
	cmd.Flags().StringVar(&niche, "niche", "general", "niche/category")
	cmd.Flags().Float64Var(&price, "price", 29, "price in dollars")
	cmd.MarkFlagRequired("template")
	cmd.MarkFlagRequired("slug")
	return cmd
}

func publishProductCmd() *cobra.Command {
	var toolSlug string

	cmd := &cobra.Command{
		Use:   "publish_product",
		Short: "Publish a built tool to the storefront",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			tool, err := a.store.GetTool(toolSlug)
			if err != nil {
				return fmt.Errorf("tool %q not found", toolSlug)
			}

			result, err := a.publisher().Publish(cmd.Context(), tool)
			if err != nil {
				return err
			}

			tool.Status = models.ToolStatusPublished
			tool.ProductID = result.ProductID
			tool.LandingURL = result.CheckoutURL
			if err := a.store.SaveTool(tool); err != nil {
				return err
			}

			fmt.Println("Product published to LemonSqueezy")
			fmt.Printf("Checkout URL: %s\n", result.CheckoutURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&toolSlug, "tool", "", "tool slug")
	cmd.MarkFlagRequired("tool")
	return cmd
}

func generateContentCmd() *cobra.Command {
	var toolSlug string
	var platforms []string
	var count int

	cmd := &cobra.Command{
		Use:   "generate_content",
		Short: "Generate promotional content for a tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			tool, err := a.store.GetTool(toolSlug)
			if err != nil {
				return fmt.Errorf("tool %q not found", toolSlug)
			}

			gen := a.generator()
			for i := 0; i < count; i++ {
				for _, platform := range platforms {
					item, err := gen.Generate(cmd.Context(), tool, platform)
					if err != nil {
						return err
					}
					if err := a.store.CreateContentItem(item); err != nil {
						return err
					}
					fmt.Printf("Generated %s content: %s\n", platform, item.VideoPath)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&toolSlug, "tool", "", "tool slug")
	cmd.Flags().StringSliceVar(&platforms, "platform", []string{models.PlatformYouTube}, "platforms")
	cmd.Flags().IntVar(&count, "count", 1, "items per platform")
	cmd.MarkFlagRequired("tool")
	return cmd
}

func postContentCmd() *cobra.Command {
	var platforms []string

	cmd := &cobra.Command{
		Use:   "post_content",
		Short: "Post one pending content item per platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			posters := a.posters()

			for _, platform := range platforms {
				poster, ok := posters[platform]
				if !ok {
					log.Printf("Platform %s not supported, skipping", platform)
					continue
				}

				item, err := nextPending(a.store, platform)
				if err != nil {
					return err
				}
				if item == nil {
					log.Printf("No pending content for %s", platform)
					continue
				}

				externalID, err := poster.Post(cmd.Context(), item)
				if err != nil {
					if services.KindOf(err) == services.KindInvalid {
						if markErr := a.store.MarkContentFailed(item.ID); markErr != nil {
							log.Printf("Warning: %v", markErr)
						}
					}
					return err
				}
				if err := a.store.MarkContentPosted(item.ID, externalID, time.Now()); err != nil {
					return err
				}
				fmt.Printf("Posted to %s (post id %s)\n", platform, externalID)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&platforms, "platform", []string{models.PlatformYouTube}, "platforms")
	return cmd
}

func nextPending(st *store.Store, platform string) (*models.ContentItem, error) {
	backlog, err := st.Snapshot(time.Now())
	if err != nil {
		return nil, err
	}
	for i := range backlog.PendingContent {
		if backlog.PendingContent[i].Platform == platform {
			return &backlog.PendingContent[i], nil
		}
	}
	return nil, nil
}

func analyticsReportCmd() *cobra.Command {
	var toolSlug, exportPath string
	var days int

	cmd := &cobra.Command{
		Use:   "analytics_report",
		Short: "Print the performance ranking",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}

			asOf := time.Now()
			ranking, err := a.ranker().Rank(asOf, days)
			if err != nil {
				return err
			}

			if toolSlug != "" {
				filtered := ranking[:0]
				for _, ts := range ranking {
					if ts.Tool.Slug == toolSlug {
						filtered = append(filtered, ts)
					}
				}
				ranking = filtered
			}

			fmt.Print(report.FormatText(ranking, days))

			if exportPath != "" {
				if err := report.ExportExcel(a.store, ranking, asOf, days, exportPath); err != nil {
					return err
				}
				fmt.Printf("Report exported to %s\n", exportPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&toolSlug, "tool", "", "restrict to one tool")
	cmd.Flags().IntVar(&days, "days", 7, "lookback window in days")
	cmd.Flags().StringVar(&exportPath, "export", "", "write an xlsx report to this path")
	return cmd
}

func dailyRunCmd() *cobra.Command {
	var force bool
	var dateStr string

	cmd := &cobra.Command{
		Use:   "daily_run",
		Short: "Run the daily decision-and-orchestration loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			date, err := parseDateFlag(dateStr)
			if err != nil {
				return err
			}

			// SIGINT aborts cleanly between actions.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := a.orchestrator().Run(ctx, date, force)
			if summary != nil {
				fmt.Println(summary.Text)
			}
			if err != nil {
				return err
			}
			if summary.AnyFailed {
				return errors.New("one or more actions failed, see summary")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-run a completed date (only failed/unattempted actions execute)")
	cmd.Flags().StringVar(&dateStr, "date", "", "run date as YYYY-MM-DD (defaults to today)")
	return cmd
}

func unlockCmd() *cobra.Command {
	var dateStr string

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Clear a stale run lock left behind by a crashed daily_run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			date, err := parseDateFlag(dateStr)
			if err != nil {
				return err
			}
			if err := a.store.ReleaseRunLock(date); err != nil {
				return err
			}
			fmt.Printf("Run lock cleared for %s\n", date.Format(models.DateLayout))
			return nil
		},
	}

	cmd.Flags().StringVar(&dateStr, "date", "", "locked date as YYYY-MM-DD (defaults to today)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}

			hub := api.NewHub()
			orch := a.orchestrator()
			orch.SetEventSink(hub)

			r := gin.Default()
			api.SetupRoutes(r, a.store, a.ranker(), a.cfg, hub)

			// The dashboard can kick off today's run on demand.
			r.POST("/api/runs", func(c *gin.Context) {
				force := c.Query("force") == "true"
				go func() {
					if _, err := orch.Run(context.Background(), time.Now(), force); err != nil {
						log.Printf("Dashboard-triggered run failed: %v", err)
					}
				}()
				c.JSON(202, gin.H{"status": "started"})
			})

			log.Printf("Dashboard listening on :%s", a.cfg.Port)
			return r.Run(":" + a.cfg.Port)
		},
	}
}
