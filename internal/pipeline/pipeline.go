// Package pipeline drives one video from identifier to markdown file and
// records the terminal outcome in the index. It owns the status matrix that
// maps acquisition failures and fallback results onto index statuses.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"yt2md/internal/chunk"
	"yt2md/internal/config"
	"yt2md/internal/fallback"
	"yt2md/internal/llm"
	"yt2md/internal/markdown"
	"yt2md/internal/refine"
	"yt2md/internal/store"
	"yt2md/internal/tracker"
	"yt2md/internal/tube"
)

// Source provides video metadata and captioned transcripts.
// *tube.Client is the real implementation.
type Source interface {
	Video(ctx context.Context, id string) (*tube.Video, error)
	Transcript(ctx context.Context, videoID, lang string) (string, error)
}

// Transcriber is the audio fallback path. *fallback.Engine is the real one.
type Transcriber interface {
	Transcript(ctx context.Context, video *tube.Video, lang string) (string, error)
}

// Index is the durable per-video record. *store.Queries is the real one.
type Index interface {
	LookupEntry(ctx context.Context, videoID string) (store.IndexEntry, error)
	RecordEntry(ctx context.Context, videoID string, status store.Status, at time.Time) error
}

// Writer persists a finished document. *markdown.Writer is the real one.
type Writer interface {
	Write(doc markdown.Document) (string, error)
}

// Options are the per-run caller choices, mostly CLI flags.
type Options struct {
	Override refine.Override
	// SkipVerification bypasses the index on both sides: the video is
	// processed even when already indexed, and the outcome is not
	// recorded. Used to reprocess a video without touching its entry.
	SkipVerification bool
	// IncludeProcessed processes already-indexed videos but still records
	// the new outcome, overwriting the entry.
	IncludeProcessed bool
	// WritePartial persists an aborted refinement with a partial marker
	// instead of discarding it.
	WritePartial bool
}

type Pipeline struct {
	Source   Source
	Fallback Transcriber // nil disables the audio path.
	Index    Index
	Tracker  *tracker.Tracker
	Selector *refine.Selector
	Writer   Writer
	Cfg      *config.Config
	Opts     Options
}

// Outcome reports what happened to one video.
type Outcome struct {
	VideoID string
	Status  store.Status // Empty when nothing was recorded.
	Path    string       // Written file, if any.
	Skipped bool         // Deliberately not processed; safe to retry later.
}

// transcriptResult pairs a transcript with how it was obtained and which
// status a successful refinement should record.
type transcriptResult struct {
	text       string
	provenance store.Provenance
	status     store.Status
}

// Process runs the whole flow for one video id. A nil error with
// Outcome.Skipped set means the video was deliberately left for a later
// run. Errors mean no terminal outcome was reached and nothing was
// recorded, so retrying is safe.
func (p *Pipeline) Process(ctx context.Context, videoID string, ch config.Channel) (Outcome, error) {
	out := Outcome{VideoID: videoID}

	if !p.Opts.SkipVerification && !p.Opts.IncludeProcessed {
		_, err := p.Index.LookupEntry(ctx, videoID)
		switch {
		case err == nil:
			log.Printf("[INFO]: %q already processed, skipping", videoID)
			out.Skipped = true
			return out, nil
		case !errors.Is(err, sql.ErrNoRows):
			return out, fmt.Errorf("index lookup for %q: %w", videoID, err)
		}
	}

	video, err := p.Source.Video(ctx, videoID)
	if err != nil {
		return out, fmt.Errorf("metadata for %q: %w", videoID, err)
	}

	res, skip, err := p.acquire(ctx, video, p.language(ch))
	if err != nil {
		// A status-only terminal outcome, e.g. fallback failed or is
		// disabled. Recorded so the video isn't retried forever.
		var srecord *statusOutcome
		if errors.As(err, &srecord) {
			if rerr := p.record(ctx, videoID, srecord.status); rerr != nil {
				return out, rerr
			}
			out.Status = srecord.status
			return out, nil
		}
		return out, err
	}
	if skip {
		out.Skipped = true
		return out, nil
	}

	path, err := p.refineAndWrite(ctx, video, ch, res)
	if err != nil {
		return out, err
	}

	if err := p.record(ctx, videoID, res.status); err != nil {
		return out, err
	}

	out.Status = res.status
	out.Path = path
	return out, nil
}

// statusOutcome carries a terminal status through the error return of
// acquire without refining anything.
type statusOutcome struct {
	status store.Status
}

func (s *statusOutcome) Error() string {
	return "terminal status " + string(s.status)
}

// acquire obtains the transcript, consulting the tracker and running the
// audio fallback per the status matrix. The returned bool reports a
// deliberate skip (live stream, too short).
func (p *Pipeline) acquire(ctx context.Context, video *tube.Video, lang string) (transcriptResult, bool, error) {
	var none transcriptResult

	if p.Tracker != nil && p.Tracker.FallbackOnly() {
		if p.Fallback == nil {
			// Latched with no fallback to lean on. Leave the video
			// unrecorded so a later run can pick it up.
			log.Printf("[WARN]: failure threshold tripped and fallback disabled, skipping %q", video.ID)
			return none, true, nil
		}
		log.Printf("[WARN]: failure threshold tripped, going straight to audio for %q", video.ID)
		return p.fallbackPath(ctx, video, lang, store.StatusIPBlocked, store.StatusSuccess)
	}

	text, err := p.Source.Transcript(ctx, video.ID, lang)
	if err == nil {
		if p.Tracker != nil {
			p.Tracker.Success()
		}
		return transcriptResult{
			text:       text,
			provenance: store.ProvenanceCaptioned,
			status:     store.StatusSuccess,
		}, false, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return none, false, err
	}

	switch {
	case errors.Is(err, tube.ErrTranscriptsDisabled):
		return p.fallbackPath(ctx, video, lang,
			store.StatusTranscriptsDisabled, store.StatusTranscriptsDisabledFallbackSucceeded)

	case errors.Is(err, tube.ErrNoTranscript):
		return p.fallbackPath(ctx, video, lang,
			store.StatusNoTranscriptFound, store.StatusNoTranscriptFoundFallbackSucceeded)

	case errors.Is(err, tube.ErrUnavailable):
		return p.fallbackPath(ctx, video, lang,
			store.StatusVideoUnavailable, store.StatusSuccess)

	case errors.Is(err, tube.ErrIPBlocked):
		if p.Tracker != nil {
			p.Tracker.Failure()
		}
		return p.fallbackPath(ctx, video, lang, store.StatusIPBlocked, store.StatusSuccess)

	default:
		log.Printf("[WARN]: unclassified transcript failure for %q: %v", video.ID, err)
		if p.Tracker != nil {
			p.Tracker.Failure()
		}
		return p.fallbackPath(ctx, video, lang, store.StatusVideoUnplayable, store.StatusSuccess)
	}
}

// fallbackPath runs the audio fallback. disabledStatus is recorded when the
// fallback is off; successStatus becomes the terminal status when the
// fallback produces a transcript and refinement later succeeds.
func (p *Pipeline) fallbackPath(
	ctx context.Context,
	video *tube.Video,
	lang string,
	disabledStatus, successStatus store.Status,
) (transcriptResult, bool, error) {
	var none transcriptResult

	if p.Fallback == nil {
		return none, false, &statusOutcome{status: disabledStatus}
	}

	text, err := p.Fallback.Transcript(ctx, video, lang)
	switch {
	case err == nil:
		return transcriptResult{
			text:       text,
			provenance: store.ProvenanceAudioFallback,
			status:     successStatus,
		}, false, nil

	case errors.Is(err, fallback.ErrLiveStream), errors.Is(err, fallback.ErrTooShort):
		log.Printf("[INFO]: skipping %q: %v", video.ID, err)
		return none, true, nil

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return none, false, err

	default:
		log.Printf("[WARN]: audio fallback failed for %q: %v", video.ID, err)
		return none, false, &statusOutcome{status: store.StatusAudioFallbackFailed}
	}
}

// refineAndWrite chunks the transcript, runs the provider session, and
// writes the document. A partial session is written only when opted in;
// either way an aborted session is an error and nothing gets indexed.
func (p *Pipeline) refineAndWrite(
	ctx context.Context,
	video *tube.Video,
	ch config.Channel,
	res transcriptResult,
) (string, error) {
	words := len(strings.Fields(res.text))
	providers, err := p.Selector.Resolve(words, ch.Category, p.Opts.Override)
	if err != nil {
		return "", fmt.Errorf("selecting providers for %q: %w", video.ID, err)
	}

	unit := chunk.UnitWords
	if p.Cfg.Refine.ChunkUnit == "chars" {
		unit = chunk.UnitChars
	}
	doc := chunk.Split(res.text, p.Cfg.Refine.ChunkSize, unit)

	session, err := refine.Refine(ctx, doc, providers, refine.Options{
		Title:          video.Title,
		Instructions:   p.Cfg.Instructions(ch.Category),
		OutputLanguage: p.outputLanguage(ch),
		CarryoverBytes: p.Cfg.Refine.CarryoverBytes,
	})
	if err != nil {
		if p.Opts.WritePartial && len(session.Outcomes) > 0 {
			if path, werr := p.write(video, session, res); werr == nil {
				log.Printf("[WARN]: wrote partial document for %q to %q", video.ID, path)
			} else {
				log.Printf("[ERROR]: could not write partial document for %q: %v", video.ID, werr)
			}
		}
		return "", fmt.Errorf("refining %q: %w", video.ID, err)
	}

	return p.write(video, session, res)
}

func (p *Pipeline) write(video *tube.Video, session *refine.Session, res transcriptResult) (string, error) {
	return p.Writer.Write(markdown.Document{
		Title:       video.Title,
		URL:         video.URL(),
		Author:      video.Channel,
		PublishedAt: video.PublishedAt,
		Description: session.Description,
		Provenance:  string(res.provenance),
		Providers:   session.Providers(),
		Body:        session.Text(),
		Partial:     session.Partial,
	})
}

func (p *Pipeline) record(ctx context.Context, videoID string, status store.Status) error {
	// Skip-verification bypasses the index on both sides: reprocessing a
	// video must not overwrite its original entry.
	if p.Opts.SkipVerification {
		log.Printf("[INFO]: skip-verification set, not recording %q for %q", status, videoID)
		return nil
	}

	if err := p.Index.RecordEntry(ctx, videoID, status, time.Now()); err != nil {
		return fmt.Errorf("recording %q for %q: %w", status, videoID, err)
	}
	log.Printf("[INFO]: recorded %q for %q", status, videoID)
	return nil
}

func (p *Pipeline) language(ch config.Channel) string {
	if ch.Language != "" {
		return ch.Language
	}
	return p.Cfg.Language
}

func (p *Pipeline) outputLanguage(ch config.Channel) string {
	if ch.OutputLanguage != "" {
		return ch.OutputLanguage
	}
	return p.Cfg.OutputLanguage
}

// FatalBatchError reports whether processing should stop for every video,
// not just this one. Provider credential problems qualify.
func FatalBatchError(err error) bool {
	var fatal *llm.FatalError
	return errors.As(err, &fatal)
}
