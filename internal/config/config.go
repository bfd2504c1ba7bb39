package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "FACTORY_CONFIG"

// Config holds runtime settings for the factory.
type Config struct {
	DatabasePath string `yaml:"databasePath"`
	TemplatesDir string `yaml:"templatesDir"`
	ToolsDir     string `yaml:"toolsDir"`
	RendersDir   string `yaml:"rendersDir"`
	Port         string `yaml:"port"`

	// Storefront (LemonSqueezy)
	LemonSqueezyAPIKey  string `yaml:"-"`
	LemonSqueezyStoreID string `yaml:"-"`

	// Social platforms
	YouTubeToken         string `yaml:"-"`
	PinterestAccessToken string `yaml:"-"`
	PinterestBoardID     string `yaml:"pinterestBoardId"`

	Ranker   RankerConfig   `yaml:"ranker"`
	Planner  PlannerConfig  `yaml:"planner"`
	Executor ExecutorConfig `yaml:"executor"`
}

// RankerConfig exposes the composite-score weights so tuning never requires
// touching ranking logic.
type RankerConfig struct {
	RevenueWeight float64 `yaml:"revenueWeight"`
	CTRWeight     float64 `yaml:"ctrWeight"`
	LookbackDays  int     `yaml:"lookbackDays"`
}

// PlannerConfig holds the decision-policy thresholds.
type PlannerConfig struct {
	CloneThreshold   float64  `yaml:"cloneThreshold"`
	WeeklyContentMin int      `yaml:"weeklyContentMin"`
	Platforms        []string `yaml:"platforms"`
	DefaultPrice     float64  `yaml:"defaultPrice"`
}

// ExecutorConfig controls retry behavior against flaky collaborator APIs.
type ExecutorConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// Load builds the configuration from defaults, an optional YAML file pointed
// to by FACTORY_CONFIG, and environment overrides (highest precedence).
func Load() *Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("config: cannot read %s: %v (using defaults)", path, err)
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			log.Printf("config: cannot parse %s: %v (using defaults)", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		DatabasePath: "db/factory.db",
		TemplatesDir: "tool_templates",
		ToolsDir:     "generated_tools",
		RendersDir:   "content/renders",
		Port:         "8080",
		Ranker: RankerConfig{
			RevenueWeight: 0.7,
			CTRWeight:     0.3,
			LookbackDays:  7,
		},
		Planner: PlannerConfig{
			CloneThreshold:   0.75,
			WeeklyContentMin: 3,
			Platforms:        []string{"youtube", "pinterest"},
			DefaultPrice:     29,
		},
		Executor: ExecutorConfig{
			MaxAttempts:  5,
			InitialDelay: 2 * time.Second,
			MaxDelay:     60 * time.Second,
		},
	}
}

func (c *Config) applyEnvOverrides() {
	c.DatabasePath = getEnv("FACTORY_DB_PATH", c.DatabasePath)
	c.TemplatesDir = getEnv("FACTORY_TEMPLATES_DIR", c.TemplatesDir)
	c.ToolsDir = getEnv("FACTORY_TOOLS_DIR", c.ToolsDir)
	c.RendersDir = getEnv("FACTORY_RENDERS_DIR", c.RendersDir)
	c.Port = getEnv("PORT", c.Port)

	c.LemonSqueezyAPIKey = getEnv("LEMONSQUEEZY_API_KEY", c.LemonSqueezyAPIKey)
	c.LemonSqueezyStoreID = getEnv("LEMONSQUEEZY_STORE_ID", c.LemonSqueezyStoreID)
	c.YouTubeToken = getEnv("YOUTUBE_ACCESS_TOKEN", c.YouTubeToken)
	c.PinterestAccessToken = getEnv("PINTEREST_ACCESS_TOKEN", c.PinterestAccessToken)
	c.PinterestBoardID = getEnv("PINTEREST_BOARD_ID", c.PinterestBoardID)

	c.Ranker.RevenueWeight = getEnvFloat("RANKER_REVENUE_WEIGHT", c.Ranker.RevenueWeight)
	c.Ranker.CTRWeight = getEnvFloat("RANKER_CTR_WEIGHT", c.Ranker.CTRWeight)
	c.Ranker.LookbackDays = getEnvInt("RANKER_LOOKBACK_DAYS", c.Ranker.LookbackDays)
	c.Planner.CloneThreshold = getEnvFloat("PLANNER_CLONE_THRESHOLD", c.Planner.CloneThreshold)
	c.Planner.WeeklyContentMin = getEnvInt("PLANNER_WEEKLY_CONTENT_MIN", c.Planner.WeeklyContentMin)
	c.Executor.MaxAttempts = getEnvInt("EXECUTOR_MAX_ATTEMPTS", c.Executor.MaxAttempts)
}

func (c *Config) normalize() {
	if c.Ranker.LookbackDays <= 0 {
		c.Ranker.LookbackDays = 7
	}
	if c.Executor.MaxAttempts < 1 {
		c.Executor.MaxAttempts = 1
	}
	if c.Executor.InitialDelay <= 0 {
		c.Executor.InitialDelay = 2 * time.Second
	}
	if c.Executor.MaxDelay < c.Executor.InitialDelay {
		c.Executor.MaxDelay = c.Executor.InitialDelay
	}
	if len(c.Planner.Platforms) == 0 {
		c.Planner.Platforms = []string{"youtube"}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
