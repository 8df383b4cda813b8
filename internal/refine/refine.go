package refine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"yt2md/internal/chunk"
	"yt2md/internal/llm"
)

// ErrAborted marks a session that could not finish every chunk. The
// returned session still holds the refined chunks that did succeed.
var ErrAborted = errors.New("refinement aborted")

const DefaultCarryoverBytes = 600

// Options shape one video's refinement session.
type Options struct {
	Title          string
	Instructions   string
	OutputLanguage string
	CarryoverBytes int
}

// ChunkOutcome is one refined chunk and the provider that produced it.
type ChunkOutcome struct {
	Position int
	Provider string
	Text     string
}

// Session is the assembled result of refining one video.
type Session struct {
	Description string
	Outcomes    []ChunkOutcome
	Partial     bool
}

// Text joins the refined chunks in order.
func (s *Session) Text() string {
	parts := make([]string, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		parts = append(parts, o.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Providers lists the provider used for each chunk, in chunk order.
func (s *Session) Providers() []string {
	names := make([]string, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		names = append(names, o.Provider)
	}
	return names
}

// Refine runs the chunked rewrite. Chunks are strictly sequential, each
// prompt carries the tail of the previous chunk's output. A transient
// provider failure moves to the next provider for the same chunk; running
// out of providers, a fatal error, or an invalid-input error aborts the
// session with the partial result preserved. The session is returned even
// on error so the caller can decide what to do with the partial document.
func Refine(
	ctx context.Context,
	doc chunk.Document,
	providers []llm.Provider,
	opts Options,
) (*Session, error) {
	if len(providers) == 0 {
		return &Session{}, fmt.Errorf("%w: no providers to try", ErrAborted)
	}
	if opts.CarryoverBytes <= 0 {
		opts.CarryoverBytes = DefaultCarryoverBytes
	}

	session := &Session{}
	carryover := ""

	for _, c := range doc {
		prompt := buildPrompt(PromptInput{
			Title:          opts.Title,
			Chunk:          c.Text,
			Carryover:      carryover,
			Instructions:   opts.Instructions,
			OutputLanguage: opts.OutputLanguage,
			First:          c.Position == 0,
			Position:       c.Position,
			Total:          len(doc),
		})

		refined, provider, err := refineChunk(ctx, providers, llm.Request{
			System: systemPrompt,
			Prompt: prompt,
		})
		if err != nil {
			session.Partial = true
			return session, fmt.Errorf("chunk %d: %w", c.Position, err)
		}

		refined = llm.StripFences(refined)
		if c.Position == 0 {
			session.Description, refined = extractDescription(refined)
		}

		session.Outcomes = append(session.Outcomes, ChunkOutcome{
			Position: c.Position,
			Provider: provider,
			Text:     refined,
		})
		carryover = tail(refined, opts.CarryoverBytes)
	}

	return session, nil
}

// refineChunk tries each provider in order until one succeeds. Only
// transient failures move on to the next provider.
func refineChunk(ctx context.Context, providers []llm.Provider, req llm.Request) (string, string, error) {
	var lastErr error

	for _, p := range providers {
		refined, err := p.Refine(ctx, req)
		if err == nil {
			return refined, p.Name(), nil
		}

		var transient *llm.TransientError
		if errors.As(err, &transient) {
			log.Printf("[WARN]: provider %q failed, trying next: %v", p.Name(), err)
			lastErr = err
			continue
		}

		// Fatal, invalid input, or cancellation. No provider will save us.
		return "", "", fmt.Errorf("%w: %w", ErrAborted, err)
	}

	return "", "", fmt.Errorf("%w: every provider failed, last: %w", ErrAborted, lastErr)
}

// tail returns the last n bytes of s, trimmed forward to a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	s = s[len(s)-n:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}
