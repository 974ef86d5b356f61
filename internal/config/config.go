package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	// Scheduler timezones must resolve in minimal containers without zoneinfo.
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone    = "Asia/Shanghai"
	fallbackTimezone   = "UTC"
	configPathEnv      = "HOTTOPICS_CONFIG"
	databaseDSNEnv     = "DATABASE_DSN"
	llmAPIKeyEnv       = "LLM_API_KEY"
	llmBaseURLEnv      = "LLM_BASE_URL"
	llmModelEnv        = "LLM_MODEL"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	logLevelEnv        = "LOG_LEVEL"
	schedulerTZEnv     = "SCHEDULER_TIMEZONE"
	browserHeadlessEnv = "BROWSER_HEADLESS"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	LLM           LLMConfig          `yaml:"llm"`
	Scraping      ScrapingConfig     `yaml:"scraping"`
	Browser       BrowserConfig      `yaml:"browser"`
	Analysis      AnalysisConfig     `yaml:"analysis"`
	Selection     SelectionConfig    `yaml:"selection"`
	Notifications NotificationConfig `yaml:"notifications"`
	Categories    []CategoryConfig   `yaml:"categories"`

	// Warnings collects non-fatal problems found while loading, for the caller to log.
	Warnings []string `yaml:"-"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig points at the topic store. A postgres:// DSN selects Postgres,
// anything else is opened as a SQLite file.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// NightHoursConfig is the daily blackout window [Start, End) in scheduler-local hours.
type NightHoursConfig struct {
	Enabled bool `yaml:"enabled"`
	Start   int  `yaml:"start"`
	End     int  `yaml:"end"`
}

// SchedulerConfig defines when each stage runs.
type SchedulerConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Timezone    string           `yaml:"timezone"`
	ScrapeCron  string           `yaml:"scrapeCron"`
	AnalyzeCron string           `yaml:"analyzeCron"`
	SelectCron  string           `yaml:"selectCron"`
	NightHours  NightHoursConfig `yaml:"nightHours"`
	location    *time.Location   `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	return time.UTC
}

// LLMConfig defines how to contact the OpenAI-compatible chat API.
type LLMConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"apiKey"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
	MaxTokens         int           `yaml:"maxTokens"`
}

// ScrapingConfig tunes the adapters and the orchestrator.
type ScrapingConfig struct {
	Limit          int           `yaml:"limit"`
	KeywordLimit   int           `yaml:"keywordLimit"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	AdapterTimeout time.Duration `yaml:"adapterTimeout"`
	HostInterval   time.Duration `yaml:"hostInterval"`
	UserAgent      string        `yaml:"userAgent"`
	Concurrency    int           `yaml:"concurrency"`
	WeiboCookie    string        `yaml:"weiboCookie"`
	// Platforms restricts ranking mode to the listed adapters; empty means all.
	Platforms []string `yaml:"platforms"`
}

// BrowserConfig configures the headless browser used for interception.
type BrowserConfig struct {
	Headless     bool          `yaml:"headless"`
	Timeout      time.Duration `yaml:"timeout"`
	PollAttempts int           `yaml:"pollAttempts"`
	PollInterval time.Duration `yaml:"pollInterval"`
	ExecPath     string        `yaml:"execPath"`
	MemoTTL      time.Duration `yaml:"memoTtl"`
}

// AnalysisConfig tunes LLM scoring.
type AnalysisConfig struct {
	BatchSize     int `yaml:"batchSize"`
	FetchLimit    int `yaml:"fetchLimit"`
	MaxFailCount  int `yaml:"maxFailCount"`
	RetentionDays int `yaml:"retentionDays"`
}

// SelectionConfig tunes the final pick.
type SelectionConfig struct {
	HoursWindow int     `yaml:"hoursWindow"`
	TopCount    int     `yaml:"topCount"`
	FinalCount  int     `yaml:"finalCount"`
	MinScore    float64 `yaml:"minScore"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	// Endpoint overrides the Bot API URL template (tgbotapi format with two %s verbs).
	Endpoint string `yaml:"endpoint"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// CategoryConfig seeds a keyword category.
type CategoryConfig struct {
	Name      string   `yaml:"name"`
	Keywords  []string `yaml:"keywords"`
	Platforms []string `yaml:"platforms"`
}

// Load reads an optional .env file and the YAML configuration, then applies
// environment overrides. An empty path falls back to HOTTOPICS_CONFIG; with
// neither set the defaults are used.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Parse(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	cfg.bindTimezone()
	return cfg, nil
}

// Parse decodes YAML on top of cfg, keeping values the document does not set.
func Parse(raw []byte, cfg *Config) error {
	return yaml.Unmarshal(raw, cfg)
}

// Default returns the built-in configuration with the timezone bound.
func Default() Config {
	cfg := defaultConfig()
	cfg.bindTimezone()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(llmBaseURLEnv); v != "" {
		c.LLM.Endpoint = chatCompletionsURL(v)
	}
	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(schedulerTZEnv); v != "" {
		c.Scheduler.Timezone = v
	}
	if v := os.Getenv(browserHeadlessEnv); v != "" {
		if headless, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = headless
		} else {
			c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring %s=%q: not a boolean", browserHeadlessEnv, v))
		}
	}
}

// chatCompletionsURL accepts either a base URL ("https://api.deepseek.com/v1")
// or a full chat-completions endpoint.
func chatCompletionsURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

// normalize restores defaults for values that cannot work.
func (c *Config) normalize() {
	def := defaultConfig()

	positive := func(v *int, fallback int) {
		if *v <= 0 {
			*v = fallback
		}
	}
	positiveDuration := func(v *time.Duration, fallback time.Duration) {
		if *v <= 0 {
			*v = fallback
		}
	}

	positive(&c.Scraping.Limit, def.Scraping.Limit)
	positive(&c.Scraping.KeywordLimit, def.Scraping.KeywordLimit)
	positive(&c.Scraping.Concurrency, def.Scraping.Concurrency)
	positiveDuration(&c.Scraping.RequestTimeout, def.Scraping.RequestTimeout)
	positiveDuration(&c.Scraping.AdapterTimeout, def.Scraping.AdapterTimeout)

	positive(&c.Browser.PollAttempts, def.Browser.PollAttempts)
	positiveDuration(&c.Browser.PollInterval, def.Browser.PollInterval)
	positiveDuration(&c.Browser.Timeout, def.Browser.Timeout)

	positive(&c.Analysis.BatchSize, def.Analysis.BatchSize)
	positive(&c.Analysis.FetchLimit, def.Analysis.FetchLimit)
	positive(&c.Analysis.MaxFailCount, def.Analysis.MaxFailCount)
	positive(&c.Analysis.RetentionDays, def.Analysis.RetentionDays)

	positive(&c.Selection.HoursWindow, def.Selection.HoursWindow)
	positive(&c.Selection.TopCount, def.Selection.TopCount)
	positive(&c.Selection.FinalCount, def.Selection.FinalCount)
	if c.Selection.TopCount < c.Selection.FinalCount {
		c.Selection.TopCount = c.Selection.FinalCount
	}

	positiveDuration(&c.LLM.Timeout, def.LLM.Timeout)
	positive(&c.LLM.MaxTokens, def.LLM.MaxTokens)

	night := &c.Scheduler.NightHours
	if night.Start < 0 || night.Start > 23 || night.End < 0 || night.End > 23 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("night hours %d-%d out of range, using %d-%d",
			night.Start, night.End, def.Scheduler.NightHours.Start, def.Scheduler.NightHours.End))
		night.Start, night.End = def.Scheduler.NightHours.Start, def.Scheduler.NightHours.End
	}

	if c.Scheduler.ScrapeCron == "" {
		c.Scheduler.ScrapeCron = def.Scheduler.ScrapeCron
	}
	if c.Scheduler.AnalyzeCron == "" {
		c.Scheduler.AnalyzeCron = def.Scheduler.AnalyzeCron
	}
	if c.Scheduler.SelectCron == "" {
		c.Scheduler.SelectCron = def.Scheduler.SelectCron
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("unknown timezone %s, reverting to %s", tz, fallbackTimezone))
		loc = time.UTC
		tz = fallbackTimezone
	}
	c.Scheduler.Timezone = tz
	c.Scheduler.location = loc
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{DSN: "hottopics.db"},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Timezone:    defaultTimezone,
			ScrapeCron:  "0 6-23 * * *",
			AnalyzeCron: "0 */2 * * *",
			SelectCron:  "30 6-23 * * *",
			NightHours:  NightHoursConfig{Enabled: true, Start: 0, End: 6},
		},
		LLM: LLMConfig{
			Endpoint:          "https://api.deepseek.com/v1/chat/completions",
			Model:             "deepseek-chat",
			Timeout:           10 * time.Minute,
			RequestsPerMinute: 20,
			MaxTokens:         4000,
		},
		Scraping: ScrapingConfig{
			Limit:          50,
			KeywordLimit:   20,
			RequestTimeout: 20 * time.Second,
			AdapterTimeout: 3 * time.Minute,
			HostInterval:   time.Second,
			Concurrency:    6,
		},
		Browser: BrowserConfig{
			Headless:     true,
			Timeout:      60 * time.Second,
			PollAttempts: 30,
			PollInterval: 500 * time.Millisecond,
			MemoTTL:      2 * time.Minute,
		},
		Analysis: AnalysisConfig{
			BatchSize:     20,
			FetchLimit:    50,
			MaxFailCount:  3,
			RetentionDays: 7,
		},
		Selection: SelectionConfig{
			HoursWindow: 48,
			TopCount:    50,
			FinalCount:  20,
			MinScore:    3.0,
		},
	}
}
