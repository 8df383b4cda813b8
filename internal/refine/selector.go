// Package refine picks LLM providers for a transcript and runs the chunked
// rewrite session against them.
package refine

import (
	"fmt"

	"yt2md/internal/config"
	"yt2md/internal/llm"
)

// Tier buckets a transcript by word count. Bigger transcripts get routed
// to providers with bigger context windows.
type Tier string

const (
	TierShort  Tier = "short"
	TierMedium Tier = "medium"
	TierLong   Tier = "long"
)

// Override is an explicit caller restriction on where refinement may run.
type Override int

const (
	OverrideNone Override = iota
	OverrideLocal
	OverrideCloud
)

// OverrideFrom maps the --local/--cloud flag pair onto an Override.
// Cloud wins when both are given.
func OverrideFrom(local, cloud bool) Override {
	switch {
	case cloud:
		return OverrideCloud
	case local:
		return OverrideLocal
	default:
		return OverrideNone
	}
}

// Factory builds a provider client from its configured name.
type Factory func(name string) (llm.Provider, error)

// Selector resolves (word count, category, override) to an ordered provider
// list using the configured tier tables.
type Selector struct {
	shortMax  int
	mediumMax int
	tables    map[string]config.TierTable
	factory   Factory
}

func NewSelector(cfg config.Refine, tables map[string]config.TierTable, factory Factory) *Selector {
	return &Selector{
		shortMax:  cfg.ShortMax,
		mediumMax: cfg.MediumMax,
		tables:    tables,
		factory:   factory,
	}
}

func (s *Selector) TierFor(words int) Tier {
	switch {
	case words < s.shortMax:
		return TierShort
	case words <= s.mediumMax:
		return TierMedium
	default:
		return TierLong
	}
}

// Resolve returns the ordered providers to try for this transcript. The
// category table overrides the default per tier; a tier the category
// leaves empty inherits the default. The override filters the resolved
// list, and filtering everything away is an error the caller must surface.
func (s *Selector) Resolve(words int, category string, ov Override) ([]llm.Provider, error) {
	tier := s.TierFor(words)
	pair := s.pairFor(tier, category)

	names := []string{}
	if pair.Primary != "" {
		names = append(names, pair.Primary)
	}
	if pair.Fallback != "" {
		names = append(names, pair.Fallback)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no providers configured for tier %q", tier)
	}

	providers := make([]llm.Provider, 0, len(names))
	for _, name := range names {
		p, err := s.factory(name)
		if err != nil {
			return nil, fmt.Errorf("building provider %q: %w", name, err)
		}

		switch ov {
		case OverrideCloud:
			if p.Local() {
				continue
			}
		case OverrideLocal:
			if !p.Local() {
				continue
			}
		}

		providers = append(providers, p)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf(
			"tier %q resolves to no providers after the %s restriction",
			tier, overrideName(ov),
		)
	}

	return providers, nil
}

func (s *Selector) pairFor(tier Tier, category string) config.ProviderPair {
	if table, ok := s.tables[category]; ok {
		if pair := tierPair(table, tier); pair.Primary != "" {
			return pair
		}
	}
	return tierPair(s.tables["default"], tier)
}

func tierPair(t config.TierTable, tier Tier) config.ProviderPair {
	switch tier {
	case TierShort:
		return t.Short
	case TierMedium:
		return t.Medium
	default:
		return t.Long
	}
}

func overrideName(ov Override) string {
	switch ov {
	case OverrideLocal:
		return "local-only"
	case OverrideCloud:
		return "cloud-only"
	default:
		return "none"
	}
}

// DefaultFactory builds the real provider clients from config and the
// API keys in the environment.
func DefaultFactory(models config.Models, geminiKey, perplexityKey string) Factory {
	return func(name string) (llm.Provider, error) {
		switch name {
		case "gemini":
			return llm.NewGemini(models.Gemini, geminiKey), nil
		case "perplexity":
			return llm.NewPerplexity(models.Perplexity, perplexityKey), nil
		case "ollama":
			o := llm.NewOllama(models.Ollama)
			if models.OllamaURL != "" {
				o.BaseURL = models.OllamaURL
			}
			return o, nil
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
}
