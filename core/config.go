package core

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Output detail modes. They control how much a generation reports back
// alongside the image.
const (
	OutputImageOnly = "image"
	OutputKeyInfo   = "key"
	OutputVerbose   = "verbose"
)

// Prompt length policies applied when a prompt has more segments than
// PromptConfig.MaxLength.
const (
	ExcessWarn          = "warn"
	ExcessTruncateFront = "truncate_front"
	ExcessTruncateBack  = "truncate_back"
)

// Moderation indicator names as they appear in the tagger response.
const (
	IndicatorSensitive    = "sensitive"
	IndicatorQuestionable = "questionable"
	IndicatorExplicit     = "explicit"
)

// ImageConfig holds the generation defaults applied when a request leaves a
// field unset.
type ImageConfig struct {
	Sampler               string  `yaml:"sampler"`
	Scheduler             string  `yaml:"scheduler"`
	Width                 int     `yaml:"width"`
	Height                int     `yaml:"height"`
	CFGScale              float64 `yaml:"cfg_scale"`
	Txt2ImgSteps          int     `yaml:"txt2img_steps"`
	Img2ImgSteps          int     `yaml:"img2img_steps"`
	MaxSteps              int     `yaml:"max_steps"`
	Prompt                string  `yaml:"prompt"`
	NegativePrompt        string  `yaml:"negative_prompt"`
	PromptPrepend         bool    `yaml:"prompt_prepend"`
	NegativePromptPrepend bool    `yaml:"negative_prompt_prepend"`
	RestoreFaces          bool    `yaml:"restore_faces"`
	SaveImages            bool    `yaml:"save_images"`
}

// PromptConfig bounds prompt size.
type PromptConfig struct {
	MaxLength    int    `yaml:"max_length"`
	ExcessPolicy string `yaml:"excess_policy"`
}

// TranslationConfig configures the OpenAI-compatible translation endpoint.
type TranslationConfig struct {
	Enabled        bool   `yaml:"enabled"`
	PronounCorrect bool   `yaml:"pronoun_correct"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"-"`
	Model          string `yaml:"model"`
}

// RefinementModel is one ADetailer pass.
type RefinementModel struct {
	Name           string  `yaml:"name"`
	Prompt         string  `yaml:"prompt"`
	NegativePrompt string  `yaml:"negative_prompt"`
	Confidence     float64 `yaml:"confidence"`
}

type ADetailerConfig struct {
	Enabled bool              `yaml:"enabled"`
	Models  []RefinementModel `yaml:"models"`
}

// CensorConfig drives the moderation gate.
type CensorConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Indicators []string `yaml:"indicators"`
	Score      float64  `yaml:"score"`
}

type TaggerConfig struct {
	Model     string       `yaml:"model"`
	Threshold float64      `yaml:"threshold"`
	Censor    CensorConfig `yaml:"censor"`
}

// BillingConfig enables the balance gate. A zero cost disables charging for
// that operation.
type BillingConfig struct {
	Enabled bool  `yaml:"enabled"`
	SDCost  int64 `yaml:"sd_cost"`
	TagCost int64 `yaml:"tag_cost"`
}

type ClosingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Tips    string `yaml:"tips"`
}

// HTTPConfig configures the command API.
type HTTPConfig struct {
	Port           int     `yaml:"port"`
	AdminTokenHash string  `yaml:"admin_token_hash"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
}

// Config holds all configuration values.
type Config struct {
	Servers              []string      `yaml:"servers"`
	Timeout              time.Duration `yaml:"timeout"`
	AllowSelfSignedCerts bool          `yaml:"allow_self_signed_certs"`
	MaxTasks             int           `yaml:"max_tasks"`
	OutputMode           string        `yaml:"output_mode"`
	AllowSetOptions      bool          `yaml:"allow_set_options"`

	Image       ImageConfig       `yaml:"image"`
	Prompt      PromptConfig      `yaml:"prompt"`
	Translation TranslationConfig `yaml:"translation"`
	ADetailer   ADetailerConfig   `yaml:"adetailer"`
	Tagger      TaggerConfig      `yaml:"tagger"`
	Billing     BillingConfig     `yaml:"billing"`
	Closing     ClosingConfig     `yaml:"closing"`
	HTTP        HTTPConfig        `yaml:"http"`

	// DatabasePath holds the balance ledger and task history.
	DatabasePath         string `yaml:"database_path"`
	HistoryRetentionDays int    `yaml:"history_retention_days"`

	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"` // empty: debug in development, info otherwise
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a Config that talks to a single local WebUI.
func DefaultConfig() *Config {
	return &Config{
		Servers:    []string{"http://127.0.0.1:7860"},
		Timeout:    60 * time.Second,
		MaxTasks:   3,
		OutputMode: OutputImageOnly,
		Image: ImageConfig{
			Sampler:               "DPM++ SDE",
			Scheduler:             "Automatic",
			Width:                 512,
			Height:                512,
			CFGScale:              7,
			Txt2ImgSteps:          20,
			Img2ImgSteps:          40,
			MaxSteps:              60,
			PromptPrepend:         true,
			NegativePromptPrepend: true,
		},
		Prompt: PromptConfig{ExcessPolicy: ExcessWarn},
		Translation: TranslationConfig{
			Model: "gpt-4o-mini",
		},
		Tagger: TaggerConfig{
			Model:     "wd14-vit-v2-git",
			Threshold: 0.35,
			Censor: CensorConfig{
				Indicators: []string{IndicatorQuestionable, IndicatorExplicit},
				Score:      0.5,
			},
		},
		Closing: ClosingConfig{Tips: "the drawing service is closed for now"},
		HTTP: HTTPConfig{
			Port:      8080,
			RateLimit: 1,
			RateBurst: 3,
		},
		DatabasePath:         "sdgateway.db",
		HistoryRetentionDays: 30,
		LogFile:              "sdgateway.log",
	}
}

// LoadConfig builds the configuration in three layers: defaults, then the
// YAML file named by SD_CONFIG_FILE (if any), then environment variables.
// A .env file at envPath is loaded first when present.
func LoadConfig(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	cfg := DefaultConfig()
	if path := os.Getenv("SD_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrConfigFileMissing(path)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return ErrConfigFileInvalid(path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if servers := ParseListEnv("SD_SERVERS"); len(servers) > 0 {
		c.Servers = servers
	}
	c.Timeout = ParseDurationEnv("SD_TIMEOUT", c.Timeout)
	c.AllowSelfSignedCerts = ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", c.AllowSelfSignedCerts)
	c.MaxTasks = ParseIntEnv("SD_MAX_TASKS", c.MaxTasks)
	c.OutputMode = GetEnvOrDefault("SD_OUTPUT_MODE", c.OutputMode)
	c.AllowSetOptions = ParseBoolEnv("SD_ALLOW_SET_OPTIONS", c.AllowSetOptions)

	c.Image.Sampler = GetEnvOrDefault("SD_SAMPLER", c.Image.Sampler)
	c.Image.Scheduler = GetEnvOrDefault("SD_SCHEDULER", c.Image.Scheduler)
	c.Image.MaxSteps = ParseIntEnv("SD_MAX_STEPS", c.Image.MaxSteps)
	c.Image.Prompt = GetEnvOrDefault("SD_DEFAULT_PROMPT", c.Image.Prompt)
	c.Image.NegativePrompt = GetEnvOrDefault("SD_DEFAULT_NEGATIVE_PROMPT", c.Image.NegativePrompt)

	c.Translation.Enabled = ParseBoolEnv("TRANSLATE_ENABLED", c.Translation.Enabled)
	c.Translation.BaseURL = GetEnvOrDefault("TRANSLATE_BASE_URL", c.Translation.BaseURL)
	c.Translation.Model = GetEnvOrDefault("TRANSLATE_MODEL", c.Translation.Model)
	c.Translation.APIKey = GetEnvOrDefault("OPENAI_API_KEY", c.Translation.APIKey)

	c.Tagger.Censor.Enabled = ParseBoolEnv("SD_CENSOR_ENABLED", c.Tagger.Censor.Enabled)

	c.Billing.Enabled = ParseBoolEnv("BILLING_ENABLED", c.Billing.Enabled)
	c.Billing.SDCost = ParseInt64Env("SD_COST", c.Billing.SDCost)
	c.Billing.TagCost = ParseInt64Env("SD_TAG_COST", c.Billing.TagCost)
	c.DatabasePath = GetEnvOrDefault("DATABASE_PATH", c.DatabasePath)
	c.HistoryRetentionDays = ParseIntEnv("HISTORY_RETENTION_DAYS", c.HistoryRetentionDays)

	c.Closing.Enabled = ParseBoolEnv("SD_CLOSING", c.Closing.Enabled)

	c.HTTP.Port = ParseIntEnv("PORT", c.HTTP.Port)
	c.HTTP.AdminTokenHash = GetEnvOrDefault("ADMIN_TOKEN_HASH", c.HTTP.AdminTokenHash)

	c.LogFile = GetEnvOrDefault("LOG_FILE", c.LogFile)
	c.LogLevel = GetEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.Development = ParseBoolEnv("DEV_MODE", c.Development)
}

// Validate checks the configuration and returns the first problem found as
// a *ConfigError.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return ErrMissingConfig("SD_SERVERS")
	}
	for _, s := range c.Servers {
		if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
			return ErrInvalidServerURL(s, "must start with http:// or https://")
		}
	}
	if c.Image.Width <= 0 || c.Image.Height <= 0 {
		return ErrInvalidValue("image size", fmt.Sprintf("%dx%d", c.Image.Width, c.Image.Height))
	}
	if c.Image.MaxSteps <= 0 {
		return ErrInvalidValue("SD_MAX_STEPS", fmt.Sprint(c.Image.MaxSteps))
	}
	if c.Timeout <= 0 {
		return ErrInvalidValue("SD_TIMEOUT", c.Timeout.String())
	}
	switch c.OutputMode {
	case OutputImageOnly, OutputKeyInfo, OutputVerbose:
	default:
		return ErrInvalidValue("SD_OUTPUT_MODE", c.OutputMode)
	}
	switch c.Prompt.ExcessPolicy {
	case ExcessWarn, ExcessTruncateFront, ExcessTruncateBack:
	default:
		return ErrInvalidValue("prompt.excess_policy", c.Prompt.ExcessPolicy)
	}
	for _, ind := range c.Tagger.Censor.Indicators {
		switch ind {
		case IndicatorSensitive, IndicatorQuestionable, IndicatorExplicit:
		default:
			return ErrInvalidValue("tagger.censor.indicators", ind)
		}
	}
	if c.Billing.Enabled && c.DatabasePath == "" {
		return ErrMissingConfig("DATABASE_PATH")
	}
	return nil
}

// GetHTTPClient returns an HTTP client honoring AllowSelfSignedCerts.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}
