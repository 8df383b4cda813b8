package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"yt2md/internal/config"
	"yt2md/internal/fallback"
	"yt2md/internal/markdown"
	"yt2md/internal/pipeline"
	"yt2md/internal/refine"
	"yt2md/internal/store"
	"yt2md/internal/tracker"
	"yt2md/internal/tube"
)

type flags struct {
	config           string
	url              string
	category         string
	channel          string
	days             int
	max              int
	language         string
	outputLanguage   string
	local            bool
	cloud            bool
	skipVerification bool
	includeProcessed bool
	writePartial     bool
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "yt2md",
		Short:         "Turn videos into refined markdown documents",
		Long: "yt2md fetches video transcripts (falling back to local audio\n" +
			"transcription when captions are missing), refines them with LLM\n" +
			"providers, and writes markdown documents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVarP(&f.config, "config", "c", "yt2md.toml", "configuration file path")
	cmd.Flags().StringVar(&f.url, "url", "", "process a single video by URL or id")
	cmd.Flags().StringVar(&f.category, "category", "", "content category for a --url run")
	cmd.Flags().StringVar(&f.channel, "channel", "", "only process this configured channel")
	cmd.Flags().IntVar(&f.days, "days", 3, "how many days back to look for uploads")
	cmd.Flags().IntVar(&f.max, "max", 0, "cap on videos per channel, 0 for no cap")
	cmd.Flags().StringVar(&f.language, "language", "", "transcript language code override")
	cmd.Flags().StringVar(&f.outputLanguage, "output-language", "", "language the documents are written in")
	cmd.Flags().BoolVar(&f.local, "local", false, "only use local providers")
	cmd.Flags().BoolVar(&f.cloud, "cloud", false, "only use cloud providers (wins over --local)")
	cmd.Flags().BoolVar(&f.skipVerification, "skip-verification", false, "process even when already indexed")
	cmd.Flags().BoolVar(&f.includeProcessed, "include-processed", false, "include already-indexed videos in channel runs")
	cmd.Flags().BoolVar(&f.writePartial, "write-partial", true, "keep partial documents when refinement is interrupted")

	return cmd
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	if f.language != "" {
		cfg.Language = f.language
	}
	if f.outputLanguage != "" {
		cfg.OutputLanguage = f.outputLanguage
	}

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		return fmt.Errorf("POSTGRES_DSN is not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	client := tube.NewClient(os.Getenv("YT_API_KEY"))

	override := refine.OverrideFrom(f.local, f.cloud)
	selector := refine.NewSelector(cfg.Refine, cfg.Providers, refine.DefaultFactory(
		cfg.Models,
		os.Getenv("GEMINI_API_KEY"),
		os.Getenv("PERPLEXITY_API_KEY"),
	))

	writer := markdown.NewWriter(cfg.OutputDir)
	if f.skipVerification {
		// Reprocessing runs get a model suffix so they don't clobber the
		// first document.
		writer.Suffix = modelSuffix(cfg, override)
	}

	pipe := &pipeline.Pipeline{
		Source:   client,
		Index:    store.New(db),
		Tracker:  tracker.New(cfg.Batch.FailureThreshold),
		Selector: selector,
		Writer:   writer,
		Cfg:      cfg,
		Opts: pipeline.Options{
			Override:         override,
			SkipVerification: f.skipVerification,
			IncludeProcessed: f.includeProcessed,
			WritePartial:     f.writePartial,
		},
	}
	if cfg.Fallback.Enabled {
		pipe.Fallback = fallback.New(fallbackConfig(cfg))
	}

	if f.url != "" {
		return runSingle(ctx, pipe, cfg, f)
	}
	return runChannels(ctx, pipe, client, cfg, f)
}

func runSingle(ctx context.Context, pipe *pipeline.Pipeline, cfg *config.Config, f flags) error {
	videoID, err := extractVideoID(f.url)
	if err != nil {
		return err
	}

	ch := config.Channel{Category: f.category}
	if f.channel != "" {
		named, ok := cfg.ChannelByName(f.channel)
		if !ok {
			return fmt.Errorf("channel %q is not configured", f.channel)
		}
		ch = named
		if f.category != "" {
			ch.Category = f.category
		}
	}

	out, err := pipe.Process(ctx, videoID, ch)
	if err != nil {
		return err
	}
	report(out)
	return nil
}

func runChannels(ctx context.Context, pipe *pipeline.Pipeline, client *tube.Client, cfg *config.Config, f flags) error {
	channels := cfg.Channels
	if f.channel != "" {
		named, ok := cfg.ChannelByName(f.channel)
		if !ok {
			return fmt.Errorf("channel %q is not configured", f.channel)
		}
		channels = []config.Channel{named}
	}
	if len(channels) == 0 {
		return fmt.Errorf("no channels configured; add a [[channels]] entry or pass --url")
	}

	batch := &pipeline.Batch{
		Pipeline: pipe,
		Discover: client,
		Workers:  cfg.Batch.Workers,
	}
	since := time.Now().AddDate(0, 0, -f.days)

	for _, ch := range channels {
		outcomes, err := batch.Channel(ctx, ch, since, f.max)
		if err != nil {
			return err
		}
		for _, out := range outcomes {
			report(out)
		}
	}

	return nil
}

func report(out pipeline.Outcome) {
	switch {
	case out.Path != "":
		log.Printf("[INFO]: %s: %s -> %s", out.VideoID, out.Status, out.Path)
	case out.Skipped:
		log.Printf("[INFO]: %s: skipped", out.VideoID)
	default:
		log.Printf("[INFO]: %s: %s", out.VideoID, out.Status)
	}
}

func modelSuffix(cfg *config.Config, ov refine.Override) string {
	switch ov {
	case refine.OverrideLocal:
		return cfg.Models.Ollama
	case refine.OverrideCloud:
		return cfg.Models.Gemini
	default:
		return ""
	}
}

// extractVideoID accepts watch URLs, short youtu.be links, and bare ids.
func extractVideoID(raw string) (string, error) {
	if !strings.Contains(raw, "/") && !strings.Contains(raw, ".") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing video URL %q: %w", raw, err)
	}

	if id := u.Query().Get("v"); id != "" {
		return id, nil
	}
	if strings.Contains(u.Host, "youtu.be") {
		if id := strings.Trim(u.Path, "/"); id != "" {
			return id, nil
		}
	}
	// Shorts and embeds carry the id as the last path element.
	if parts := strings.Split(strings.Trim(u.Path, "/"), "/"); len(parts) > 0 && parts[len(parts)-1] != "" {
		return parts[len(parts)-1], nil
	}

	return "", fmt.Errorf("could not find a video id in %q", raw)
}

func fallbackConfig(cfg *config.Config) fallback.Config {
	return fallback.Config{
		AudioDir:      cfg.Fallback.AudioDir,
		MinDuration:   time.Duration(cfg.Fallback.MinDurationSeconds) * time.Second,
		MaxAudioMB:    cfg.Fallback.MaxAudioMB,
		Model:         cfg.Fallback.Model,
		ModelDir:      cfg.Fallback.ModelDir,
		Device:        cfg.Fallback.Device,
		Threads:       cfg.Fallback.Threads,
		Processors:    cfg.Fallback.Processors,
		DownloadDelay: time.Duration(cfg.Fallback.DownloadDelaySeconds) * time.Second,

		DownloadTimeout:   time.Duration(cfg.Fallback.DownloadTimeoutSeconds) * time.Second,
		TranscribeTimeout: time.Duration(cfg.Fallback.TranscribeTimeoutSeconds) * time.Second,
	}
}
