package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yt2md/internal/chunk"
	"yt2md/internal/config"
	"yt2md/internal/llm"
)

// fakeProvider scripts responses per call.
type fakeProvider struct {
	name  string
	local bool

	calls   int
	prompts []string
	respond func(call int, req llm.Request) (string, error)
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Local() bool  { return f.local }

func (f *fakeProvider) Refine(_ context.Context, req llm.Request) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	return f.respond(f.calls, req)
}

func echoProvider(name string) *fakeProvider {
	return &fakeProvider{
		name: name,
		respond: func(call int, req llm.Request) (string, error) {
			return fmt.Sprintf("refined-%d", call), nil
		},
	}
}

func failingProvider(name string, err error) *fakeProvider {
	return &fakeProvider{
		name:    name,
		respond: func(int, llm.Request) (string, error) { return "", err },
	}
}

func doc(texts ...string) chunk.Document {
	d := make(chunk.Document, len(texts))
	for i, t := range texts {
		d[i] = chunk.Chunk{Position: i, Text: t}
	}
	return d
}

func TestRefineSequentialChunks(t *testing.T) {
	p := echoProvider("fake")

	session, err := Refine(context.Background(), doc("one", "two", "three"),
		[]llm.Provider{p}, Options{})
	require.NoError(t, err)

	assert.False(t, session.Partial)
	assert.Equal(t, "refined-1\n\nrefined-2\n\nrefined-3", session.Text())
	assert.Equal(t, []string{"fake", "fake", "fake"}, session.Providers())
}

func TestRefineCarryoverFlowsBetweenChunks(t *testing.T) {
	p := &fakeProvider{
		name: "fake",
		respond: func(call int, _ llm.Request) (string, error) {
			return fmt.Sprintf("output of chunk %d", call), nil
		},
	}

	_, err := Refine(context.Background(), doc("one", "two"),
		[]llm.Provider{p}, Options{CarryoverBytes: 1024})
	require.NoError(t, err)

	require.Len(t, p.prompts, 2)
	assert.NotContains(t, p.prompts[0], "ends with")
	assert.Contains(t, p.prompts[1], "output of chunk 1")
}

func TestRefineCarryoverIsBounded(t *testing.T) {
	long := strings.Repeat("x", 500)
	p := &fakeProvider{
		name: "fake",
		respond: func(call int, _ llm.Request) (string, error) {
			return long, nil
		},
	}

	_, err := Refine(context.Background(), doc("one", "two"),
		[]llm.Provider{p}, Options{CarryoverBytes: 100})
	require.NoError(t, err)

	require.Len(t, p.prompts, 2)
	assert.Contains(t, p.prompts[1], strings.Repeat("x", 100))
	assert.NotContains(t, p.prompts[1], strings.Repeat("x", 101))
}

func TestRefineFailoverOnTransient(t *testing.T) {
	flaky := failingProvider("flaky", &llm.TransientError{Provider: "flaky", Err: errors.New("429")})
	steady := echoProvider("steady")

	session, err := Refine(context.Background(), doc("one"),
		[]llm.Provider{flaky, steady}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"steady"}, session.Providers())
	assert.Equal(t, 1, flaky.calls)
}

func TestRefineAbortsWhenAllProvidersFail(t *testing.T) {
	a := failingProvider("a", &llm.TransientError{Provider: "a", Err: errors.New("down")})
	b := failingProvider("b", &llm.TransientError{Provider: "b", Err: errors.New("down")})

	session, err := Refine(context.Background(), doc("one"), []llm.Provider{a, b}, Options{})
	require.ErrorIs(t, err, ErrAborted)
	assert.True(t, session.Partial)
	assert.Empty(t, session.Outcomes)
}

func TestRefineFatalAbortsWithoutFailover(t *testing.T) {
	bad := failingProvider("bad", &llm.FatalError{Provider: "bad", Err: errors.New("no key")})
	next := echoProvider("next")

	_, err := Refine(context.Background(), doc("one"), []llm.Provider{bad, next}, Options{})
	require.ErrorIs(t, err, ErrAborted)

	var fatal *llm.FatalError
	assert.ErrorAs(t, err, &fatal)
	assert.Zero(t, next.calls, "fatal errors must not fail over")
}

func TestRefinePartialPreservedOnMidSessionAbort(t *testing.T) {
	p := &fakeProvider{
		name: "fake",
		respond: func(call int, _ llm.Request) (string, error) {
			if call == 2 {
				return "", &llm.InvalidInputError{Provider: "fake", Err: errors.New("400")}
			}
			return fmt.Sprintf("refined-%d", call), nil
		},
	}

	session, err := Refine(context.Background(), doc("one", "two", "three"),
		[]llm.Provider{p}, Options{})
	require.ErrorIs(t, err, ErrAborted)

	assert.True(t, session.Partial)
	require.Len(t, session.Outcomes, 1)
	assert.Equal(t, "refined-1", session.Outcomes[0].Text)
}

func TestRefineExtractsDescriptionFromFirstChunk(t *testing.T) {
	p := &fakeProvider{
		name: "fake",
		respond: func(call int, _ llm.Request) (string, error) {
			if call == 1 {
				return "DESCRIPTION: A talk about goroutines.\n\n# Goroutines\n\nBody.", nil
			}
			return "more", nil
		},
	}

	session, err := Refine(context.Background(), doc("one", "two"), []llm.Provider{p}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "A talk about goroutines.", session.Description)
	assert.Equal(t, "# Goroutines\n\nBody.", session.Outcomes[0].Text)
	require.Len(t, p.prompts, 2)
	assert.Contains(t, p.prompts[0], "DESCRIPTION:")
	assert.NotContains(t, p.prompts[1], "DESCRIPTION:")
}

func TestExtractDescriptionVariants(t *testing.T) {
	cases := []struct {
		name     string
		refined  string
		wantDesc string
		wantBody string
	}{
		{
			name:     "exact marker",
			refined:  "DESCRIPTION: A talk.\n\nBody.",
			wantDesc: "A talk.",
			wantBody: "Body.",
		},
		{
			name:     "lowercase marker",
			refined:  "description: A talk.\n\nBody.",
			wantDesc: "A talk.",
			wantBody: "Body.",
		},
		{
			name:     "bold marker",
			refined:  "**DESCRIPTION:** A talk.\n\nBody.",
			wantDesc: "A talk.",
			wantBody: "Body.",
		},
		{
			name:     "translated marker",
			refined:  "OPIS: Wyklad o Go.\n\nBody.",
			wantDesc: "Wyklad o Go.",
			wantBody: "Body.",
		},
		{
			name:     "value on next line",
			refined:  "DESCRIPTION:\nA talk.\n\nBody.",
			wantDesc: "A talk.",
			wantBody: "Body.",
		},
		{
			name:     "no marker",
			refined:  "# Heading\n\nBody.",
			wantDesc: "",
			wantBody: "# Heading\n\nBody.",
		},
		{
			name:     "marker word without colon is body",
			refined:  "Description of the talk follows.\n\nBody.",
			wantDesc: "",
			wantBody: "Description of the talk follows.\n\nBody.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			desc, body := extractDescription(tc.refined)
			assert.Equal(t, tc.wantDesc, desc)
			assert.Equal(t, tc.wantBody, body)
		})
	}
}

func TestRefinePromptCarriesInstructionsAndLanguage(t *testing.T) {
	p := echoProvider("fake")

	_, err := Refine(context.Background(), doc("one"), []llm.Provider{p}, Options{
		Title:          "My Video",
		Instructions:   "Keep code blocks verbatim.",
		OutputLanguage: "Polish",
	})
	require.NoError(t, err)

	prompt := p.prompts[0]
	assert.Contains(t, prompt, "My Video")
	assert.Contains(t, prompt, "Keep code blocks verbatim.")
	assert.Contains(t, prompt, "Polish")
	assert.Contains(t, prompt, "one")
}

func TestRefineStripsCodeFences(t *testing.T) {
	p := &fakeProvider{
		name: "fake",
		respond: func(int, llm.Request) (string, error) {
			return "```markdown\n# Title\n```", nil
		},
	}

	session, err := Refine(context.Background(), doc("one"), []llm.Provider{p}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "# Title", session.Text())
}

func TestTierResolution(t *testing.T) {
	sel := NewSelector(
		config.Refine{ShortMax: 500, MediumMax: 1000},
		map[string]config.TierTable{"default": {}},
		nil,
	)

	assert.Equal(t, TierShort, sel.TierFor(0))
	assert.Equal(t, TierShort, sel.TierFor(499))
	assert.Equal(t, TierMedium, sel.TierFor(500))
	assert.Equal(t, TierMedium, sel.TierFor(600))
	assert.Equal(t, TierMedium, sel.TierFor(1000))
	assert.Equal(t, TierLong, sel.TierFor(1001))
}

func fakeFactory(t *testing.T) Factory {
	return func(name string) (llm.Provider, error) {
		switch name {
		case "ollama":
			return &fakeProvider{name: name, local: true}, nil
		case "gemini", "perplexity":
			return &fakeProvider{name: name}, nil
		default:
			t.Fatalf("unexpected provider %q", name)
			return nil, nil
		}
	}
}

func TestResolveUsesDefaultTable(t *testing.T) {
	sel := NewSelector(
		config.Refine{ShortMax: 500, MediumMax: 1000},
		map[string]config.TierTable{
			"default": {
				Short: config.ProviderPair{Primary: "ollama", Fallback: "gemini"},
			},
		},
		fakeFactory(t),
	)

	providers, err := sel.Resolve(100, "IT", OverrideNone)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "ollama", providers[0].Name())
	assert.Equal(t, "gemini", providers[1].Name())
}

func TestResolveCategoryOverridesPerTier(t *testing.T) {
	sel := NewSelector(
		config.Refine{ShortMax: 500, MediumMax: 1000},
		map[string]config.TierTable{
			"default": {
				Short: config.ProviderPair{Primary: "ollama"},
				Long:  config.ProviderPair{Primary: "gemini"},
			},
			"IT": {
				// Only long is overridden; short inherits the default.
				Long: config.ProviderPair{Primary: "perplexity"},
			},
		},
		fakeFactory(t),
	)

	long, err := sel.Resolve(5000, "IT", OverrideNone)
	require.NoError(t, err)
	assert.Equal(t, "perplexity", long[0].Name())

	short, err := sel.Resolve(100, "IT", OverrideNone)
	require.NoError(t, err)
	assert.Equal(t, "ollama", short[0].Name())
}

func TestResolveOverrideFilters(t *testing.T) {
	tables := map[string]config.TierTable{
		"default": {
			Short: config.ProviderPair{Primary: "ollama", Fallback: "gemini"},
		},
	}
	sel := NewSelector(config.Refine{ShortMax: 500, MediumMax: 1000}, tables, fakeFactory(t))

	cloud, err := sel.Resolve(100, "", OverrideCloud)
	require.NoError(t, err)
	require.Len(t, cloud, 1)
	assert.Equal(t, "gemini", cloud[0].Name())

	local, err := sel.Resolve(100, "", OverrideLocal)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "ollama", local[0].Name())
}

func TestResolveEmptyAfterFilterIsAnError(t *testing.T) {
	tables := map[string]config.TierTable{
		"default": {
			Short: config.ProviderPair{Primary: "ollama"},
		},
	}
	sel := NewSelector(config.Refine{ShortMax: 500, MediumMax: 1000}, tables, fakeFactory(t))

	_, err := sel.Resolve(100, "", OverrideCloud)
	assert.Error(t, err)
}

func TestOverrideFromFlags(t *testing.T) {
	assert.Equal(t, OverrideNone, OverrideFrom(false, false))
	assert.Equal(t, OverrideLocal, OverrideFrom(true, false))
	assert.Equal(t, OverrideCloud, OverrideFrom(false, true))
	// Cloud wins when both flags are set.
	assert.Equal(t, OverrideCloud, OverrideFrom(true, true))
}
