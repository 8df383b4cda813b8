// Package config loads and validates the TOML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Channel is one tracked channel from the [[channels]] list.
type Channel struct {
	ID             string `toml:"id"`
	Name           string `toml:"name"`
	Category       string `toml:"category"`
	Language       string `toml:"language"`
	OutputLanguage string `toml:"output_language"`
}

// Fallback configures the audio transcription path.
type Fallback struct {
	Enabled              bool   `toml:"enabled"`
	Model                string `toml:"model"`
	ModelDir             string `toml:"model_dir"`
	Device               string `toml:"device"`
	AudioDir             string `toml:"audio_dir"`
	MaxAudioMB           int64  `toml:"max_audio_mb"`
	MinDurationSeconds   int    `toml:"min_duration_seconds"`
	DownloadDelaySeconds int    `toml:"download_delay_seconds"`
	Threads              int    `toml:"threads"`
	Processors           int    `toml:"processors"`

	// Per-stage deadlines for the external binaries.
	DownloadTimeoutSeconds   int `toml:"download_timeout_seconds"`
	TranscribeTimeoutSeconds int `toml:"transcribe_timeout_seconds"`
}

// Refine configures chunking, carryover, and tier thresholds.
type Refine struct {
	ChunkSize      int    `toml:"chunk_size"`
	ChunkUnit      string `toml:"chunk_unit"` // "words" or "chars".
	CarryoverBytes int    `toml:"carryover_bytes"`
	ShortMax       int    `toml:"short_max"`
	MediumMax      int    `toml:"medium_max"`
}

// Batch configures channel-wide processing.
type Batch struct {
	Workers          int `toml:"workers"`
	FailureThreshold int `toml:"failure_threshold"`
}

// Models names the model used per provider.
type Models struct {
	Gemini     string `toml:"gemini"`
	Perplexity string `toml:"perplexity"`
	Ollama     string `toml:"ollama"`
	OllamaURL  string `toml:"ollama_url"`
}

// ProviderPair is an ordered (primary, fallback) choice for one tier.
type ProviderPair struct {
	Primary  string `toml:"primary"`
	Fallback string `toml:"fallback"`
}

// TierTable maps transcript-size tiers to provider pairs.
type TierTable struct {
	Short  ProviderPair `toml:"short"`
	Medium ProviderPair `toml:"medium"`
	Long   ProviderPair `toml:"long"`
}

// Category holds per-category prompt additions.
type Category struct {
	Instructions string `toml:"instructions"`
}

type Config struct {
	OutputDir      string `toml:"output_dir"`
	Language       string `toml:"language"`
	OutputLanguage string `toml:"output_language"`

	Channels []Channel `toml:"channels"`
	Fallback Fallback  `toml:"fallback"`
	Refine   Refine    `toml:"refine"`
	Batch    Batch     `toml:"batch"`
	Models   Models    `toml:"models"`

	// "default" is required; other keys are category names overriding it.
	Providers map[string]TierTable `toml:"providers"`

	Categories map[string]Category `toml:"categories"`
}

// Known provider names the [providers.*] tables may reference.
var knownProviders = map[string]bool{
	"gemini":     true,
	"perplexity": true,
	"ollama":     true,
}

func Default() Config {
	return Config{
		OutputDir:      "output",
		Language:       "en",
		OutputLanguage: "English",
		Fallback: Fallback{
			Enabled:              true,
			Model:                "base",
			Device:               "cpu",
			AudioDir:             filepath.Join(os.TempDir(), "yt2md-audio"),
			MaxAudioMB:           100,
			MinDurationSeconds:   30,
			DownloadDelaySeconds: 10,
			Threads:              4,
			Processors:           1,

			DownloadTimeoutSeconds:   600,
			TranscribeTimeoutSeconds: 1800,
		},
		Refine: Refine{
			ChunkSize:      6000,
			ChunkUnit:      "words",
			CarryoverBytes: 600,
			ShortMax:       3000,
			MediumMax:      12000,
		},
		Batch: Batch{
			Workers:          4,
			FailureThreshold: 3,
		},
		Models: Models{
			Gemini:     "gemini-2.0-flash",
			Perplexity: "sonar",
			Ollama:     "llama3.1",
			OllamaURL:  "http://localhost:11434",
		},
		Providers: map[string]TierTable{
			"default": {
				Short:  ProviderPair{Primary: "ollama", Fallback: "gemini"},
				Medium: ProviderPair{Primary: "gemini", Fallback: "perplexity"},
				Long:   ProviderPair{Primary: "gemini", Fallback: "perplexity"},
			},
		},
	}
}

// Load parses the file at path on top of the defaults and validates the
// result. A missing file is fine, you just get the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Refine.ChunkSize <= 0 {
		return fmt.Errorf("refine.chunk_size must be positive, got %d", c.Refine.ChunkSize)
	}
	if u := c.Refine.ChunkUnit; u != "words" && u != "chars" {
		return fmt.Errorf("refine.chunk_unit must be %q or %q, got %q", "words", "chars", u)
	}
	if c.Refine.ShortMax <= 0 || c.Refine.MediumMax <= c.Refine.ShortMax {
		return fmt.Errorf(
			"refine tier thresholds must satisfy 0 < short_max < medium_max, got %d and %d",
			c.Refine.ShortMax, c.Refine.MediumMax,
		)
	}
	if c.Refine.CarryoverBytes < 0 {
		return fmt.Errorf("refine.carryover_bytes must not be negative")
	}

	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers)
	}
	if c.Batch.FailureThreshold < 1 {
		return fmt.Errorf("batch.failure_threshold must be at least 1, got %d", c.Batch.FailureThreshold)
	}

	if c.Fallback.Enabled {
		if c.Fallback.MaxAudioMB <= 0 {
			return fmt.Errorf("fallback.max_audio_mb must be positive, got %d", c.Fallback.MaxAudioMB)
		}
		if c.Fallback.Device != "cpu" && c.Fallback.Device != "cuda" {
			return fmt.Errorf("fallback.device must be %q or %q, got %q", "cpu", "cuda", c.Fallback.Device)
		}
	}

	def, ok := c.Providers["default"]
	if !ok {
		return fmt.Errorf("providers.default table is required")
	}
	if err := validateTierTable("default", def, true); err != nil {
		return err
	}
	for name, table := range c.Providers {
		if name == "default" {
			continue
		}
		if err := validateTierTable(name, table, false); err != nil {
			return err
		}
	}

	for i, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channels[%d] is missing an id", i)
		}
	}

	return nil
}

// validateTierTable checks every named provider is one we can construct.
// The default table must name a primary for every tier; category tables
// may leave tiers empty and inherit the default.
func validateTierTable(name string, t TierTable, requireComplete bool) error {
	check := func(tier string, p ProviderPair) error {
		if requireComplete && p.Primary == "" {
			return fmt.Errorf("providers.%s.%s must set a primary provider", name, tier)
		}
		for _, prov := range []string{p.Primary, p.Fallback} {
			if prov == "" {
				continue
			}
			if !knownProviders[prov] {
				return fmt.Errorf(
					"providers.%s.%s names unknown provider %q (known: %s)",
					name, tier, prov, strings.Join(providerNames(), ", "),
				)
			}
		}
		return nil
	}

	if err := check("short", t.Short); err != nil {
		return err
	}
	if err := check("medium", t.Medium); err != nil {
		return err
	}
	return check("long", t.Long)
}

func providerNames() []string {
	names := make([]string, 0, len(knownProviders))
	for n := range knownProviders {
		names = append(names, n)
	}
	return names
}

// ChannelByName finds a channel entry by its configured name or id.
func (c *Config) ChannelByName(name string) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name || ch.ID == name {
			return ch, true
		}
	}
	return Channel{}, false
}

// Instructions returns the prompt additions for a category, if any.
func (c *Config) Instructions(category string) string {
	if cat, ok := c.Categories[category]; ok {
		return cat.Instructions
	}
	return ""
}
