package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"PaperBlogBot/internal/domain"
)

const (
	configPathEnv    = "PAPERBLOGBOT_CONFIG"
	logLevelEnv      = "LOG_LEVEL"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	llmAPIKeyEnv     = "LLM_API_KEY"
	llmModelEnv      = "LLM_MODEL"
	pubmedEmailEnv   = "PUBMED_EMAIL"
	pubmedAPIKeyEnv  = "PUBMED_API_KEY"
	checkpointDSNEnv = "CHECKPOINT_DSN"
	redisAddrEnv     = "REDIS_ADDR"
)

// Mode selects which credentials Validate requires.
type Mode string

const (
	ModeServe   Mode = "serve"
	ModeConsole Mode = "console"
	ModeOps     Mode = "ops"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging        LoggingConfig    `yaml:"logging"`
	Telegram       TelegramConfig   `yaml:"telegram"`
	Search         SearchConfig     `yaml:"search"`
	Enrichment     EnrichmentConfig `yaml:"enrichment"`
	LLM            LLMConfig        `yaml:"llm"`
	ScoringService ScoringConfig    `yaml:"scoringService"`
	Topics         TopicsConfig     `yaml:"topics"`
	Pipeline       PipelineConfig   `yaml:"pipeline"`
	Checkpoints    CheckpointConfig `yaml:"checkpoints"`
	Dispatch       DispatchConfig   `yaml:"dispatch"`
	HTTP           HTTPConfig       `yaml:"http"`
}

// LoggingConfig controls the zap level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelegramConfig wires all data required to talk to the bot API.
type TelegramConfig struct {
	BotToken    string        `yaml:"botToken"`
	APIURL      string        `yaml:"apiUrl"`
	PollTimeout time.Duration `yaml:"pollTimeout"`
}

// SearchConfig lists corpus providers queried in order.
type SearchConfig struct {
	Providers []string     `yaml:"providers"`
	PubMed    PubMedConfig `yaml:"pubmed"`
	Arxiv     ArxivConfig  `yaml:"arxiv"`
}

// PubMedConfig describes NCBI E-utilities access.
type PubMedConfig struct {
	BaseURL       string        `yaml:"baseUrl"`
	Email         string        `yaml:"email"`
	APIKey        string        `yaml:"apiKey"`
	RatePerSecond float64       `yaml:"ratePerSecond"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ArxivConfig describes the arXiv search page.
type ArxivConfig struct {
	BaseURL  string `yaml:"baseUrl"`
	PageSize int    `yaml:"pageSize"`
}

// EnrichmentConfig describes the PMC full-text source.
type EnrichmentConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LLMConfig defines how to contact the chat-completion API.
type LLMConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ScoringConfig points at an optional dedicated scoring service.
type ScoringConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"apiKey"`
}

// TopicsConfig drives sub-topic suggestion.
type TopicsConfig struct {
	SearchURL  string            `yaml:"searchUrl"`
	Selector   string            `yaml:"selector"`
	MaxPages   int               `yaml:"maxPages"`
	Limit      int               `yaml:"limit"`
	Dictionary []DictionaryEntry `yaml:"dictionary"`
}

// DictionaryEntry maps a sub-topic to the markers that count as a mention.
type DictionaryEntry struct {
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"`
	Query    string   `yaml:"query"`
	Markers  []string `yaml:"markers"`
}

// PipelineConfig carries the stage thresholds and budgets.
type PipelineConfig struct {
	PerQueryResults   int           `yaml:"perQueryResults"`
	BroadResults      int           `yaml:"broadResults"`
	TargetCount       int           `yaml:"targetCount"`
	LowYieldThreshold int           `yaml:"lowYieldThreshold"`
	MaxRefinements    int           `yaml:"maxRefinements"`
	EnrichPrefix      int           `yaml:"enrichPrefix"`
	EnrichBudget      time.Duration `yaml:"enrichBudget"`
	EnrichCallTimeout time.Duration `yaml:"enrichCallTimeout"`
	ProgressEvery     int           `yaml:"progressEvery"`
	ScoreBatchSize    int           `yaml:"scoreBatchSize"`
	ScoreTimeout      time.Duration `yaml:"scoreTimeout"`
	AcceptThreshold   int           `yaml:"acceptThreshold"`
	RelevanceMarkers  []string      `yaml:"relevanceMarkers"`
	ExclusionMarkers  []string      `yaml:"exclusionMarkers"`
	SuggestTimeout    time.Duration `yaml:"suggestTimeout"`
	GenerationTimeout time.Duration `yaml:"generationTimeout"`
	ProgressInterval  time.Duration `yaml:"progressInterval"`
	ResumeListLimit   int           `yaml:"resumeListLimit"`
}

// CheckpointConfig selects the checkpoint store.
type CheckpointConfig struct {
	Driver        string `yaml:"driver"`
	Dir           string `yaml:"dir"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	RedisPrefix   string `yaml:"redisPrefix"`
}

// DispatchConfig bounds the worker pool.
type DispatchConfig struct {
	Workers int           `yaml:"workers"`
	IdleTTL time.Duration `yaml:"idleTtl"`
}

// HTTPConfig controls the ops endpoint.
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// Load reads the YAML file named by PAPERBLOGBOT_CONFIG (if set) and applies
// environment overrides.
func Load() Config {
	return LoadFrom(os.Getenv(configPathEnv))
}

// LoadFrom reads YAML configuration from path (if non-empty) and applies
// environment overrides.
func LoadFrom(path string) Config {
	cfg := defaultConfig()

	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			fileCfg := defaultConfig()
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = fileCfg
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg
}

// Validate checks credentials required by the selected mode. Failures are
// configuration failures and are only ever reported at startup.
func (c Config) Validate(mode Mode) error {
	if mode == ModeServe && c.Telegram.BotToken == "" {
		return fmt.Errorf("%w: telegram bot token is required (%s)", domain.ErrConfiguration, telegramTokenEnv)
	}
	if mode == ModeServe || mode == ModeConsole {
		for _, p := range c.Search.Providers {
			if p == "pubmed" && c.Search.PubMed.Email == "" {
				return fmt.Errorf("%w: pubmed requires a contact email (%s)", domain.ErrConfiguration, pubmedEmailEnv)
			}
		}
		if len(c.Search.Providers) == 0 {
			return fmt.Errorf("%w: no search providers configured", domain.ErrConfiguration)
		}
	}
	switch c.Checkpoints.Driver {
	case "memory", "file":
	case "postgres":
		if c.Checkpoints.DSN == "" {
			return fmt.Errorf("%w: postgres checkpoints need a dsn (%s)", domain.ErrConfiguration, checkpointDSNEnv)
		}
	case "redis":
		if c.Checkpoints.RedisAddr == "" {
			return fmt.Errorf("%w: redis checkpoints need an address (%s)", domain.ErrConfiguration, redisAddrEnv)
		}
	default:
		return fmt.Errorf("%w: unknown checkpoint driver %q", domain.ErrConfiguration, c.Checkpoints.Driver)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}

	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}

	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv(pubmedEmailEnv); v != "" {
		c.Search.PubMed.Email = v
	}

	if v := os.Getenv(pubmedAPIKeyEnv); v != "" {
		c.Search.PubMed.APIKey = v
	}

	if v := os.Getenv(checkpointDSNEnv); v != "" {
		c.Checkpoints.DSN = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Checkpoints.RedisAddr = v
	}
}

// normalize replaces non-positive tuning values with defaults so a partial file
// cannot disable a budget by accident.
func (c *Config) normalize() {
	def := defaultConfig().Pipeline
	p := &c.Pipeline
	positive(&p.PerQueryResults, def.PerQueryResults)
	positive(&p.BroadResults, def.BroadResults)
	positive(&p.TargetCount, def.TargetCount)
	positive(&p.MaxRefinements, def.MaxRefinements)
	positive(&p.EnrichPrefix, def.EnrichPrefix)
	positive(&p.ProgressEvery, def.ProgressEvery)
	positive(&p.ScoreBatchSize, def.ScoreBatchSize)
	positive(&p.AcceptThreshold, def.AcceptThreshold)
	positive(&p.ResumeListLimit, def.ResumeListLimit)
	positiveDuration(&p.EnrichBudget, def.EnrichBudget)
	positiveDuration(&p.EnrichCallTimeout, def.EnrichCallTimeout)
	positiveDuration(&p.ScoreTimeout, def.ScoreTimeout)
	positiveDuration(&p.SuggestTimeout, def.SuggestTimeout)
	positiveDuration(&p.GenerationTimeout, def.GenerationTimeout)
	positiveDuration(&p.ProgressInterval, def.ProgressInterval)
	if p.LowYieldThreshold < 0 {
		p.LowYieldThreshold = def.LowYieldThreshold
	}

	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = defaultConfig().Dispatch.Workers
	}
	if c.Checkpoints.Driver == "" {
		c.Checkpoints.Driver = "file"
	}
}

func positive(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func positiveDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Telegram: TelegramConfig{
			APIURL:      "https://api.telegram.org",
			PollTimeout: 30 * time.Second,
		},
		Search: SearchConfig{
			Providers: []string{"pubmed"},
			PubMed: PubMedConfig{
				BaseURL:       "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
				RatePerSecond: 3,
				Timeout:       30 * time.Second,
			},
			Arxiv: ArxivConfig{BaseURL: "https://arxiv.org", PageSize: 50},
		},
		Enrichment: EnrichmentConfig{Enabled: true},
		LLM: LLMConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You assess and summarize biomedical research papers.",
			Timeout:      5 * time.Minute,
		},
		Topics: TopicsConfig{
			SearchURL: "https://search.naver.com/search.naver?where=blog&query=%s",
			Selector:  ".api_txt_lines, .title_link, .dsc_link",
			MaxPages:  1,
			Limit:     15,
		},
		Pipeline: PipelineConfig{
			PerQueryResults:   30,
			BroadResults:      100,
			TargetCount:       150,
			LowYieldThreshold: 5,
			MaxRefinements:    5,
			EnrichPrefix:      50,
			EnrichBudget:      300 * time.Second,
			EnrichCallTimeout: 30 * time.Second,
			ProgressEvery:     5,
			ScoreBatchSize:    20,
			ScoreTimeout:      180 * time.Second,
			AcceptThreshold:   75,
			SuggestTimeout:    3 * time.Minute,
			GenerationTimeout: 5 * time.Minute,
			ProgressInterval:  10 * time.Second,
			ResumeListLimit:   5,
		},
		Checkpoints: CheckpointConfig{
			Driver:      "file",
			Dir:         "session_data",
			RedisPrefix: "paperblogbot",
		},
		Dispatch: DispatchConfig{Workers: 4, IdleTTL: 6 * time.Hour},
		HTTP:     HTTPConfig{Address: ":9090"},
	}
}
