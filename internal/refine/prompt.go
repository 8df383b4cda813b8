package refine

import (
	"strings"
)

const systemPrompt = `You rewrite raw video transcripts into clean, well ` +
	`structured markdown articles. Preserve every claim, number, name and ` +
	`example from the transcript. Remove filler words, sponsor reads and ` +
	`channel housekeeping. Use headings, lists and short paragraphs. ` +
	`Output markdown only, without a surrounding code fence.`

const descriptionMarker = "DESCRIPTION:"

// PromptInput is everything a single chunk request is built from.
type PromptInput struct {
	Title          string
	Chunk          string
	Carryover      string
	Instructions   string // Category-specific formatting additions.
	OutputLanguage string
	First          bool // First chunk also yields the document description.
	Position       int
	Total          int
}

func buildPrompt(in PromptInput) string {
	var b strings.Builder

	para := func(s string) {
		b.WriteString(s)
		b.WriteString("\n\n")
	}

	if in.Title != "" {
		para("The video is titled: " + in.Title)
	}
	if in.Total > 1 {
		para(ordinalNote(in.Position, in.Total))
	}
	if in.Carryover != "" {
		para("The refined text so far ends with:\n\n" + in.Carryover +
			"\n\nContinue seamlessly from there. Do not repeat it.")
	}
	if in.Instructions != "" {
		para(in.Instructions)
	}
	if in.OutputLanguage != "" {
		para("Write the output in " + in.OutputLanguage + ".")
	}
	if in.First {
		para("Start your reply with a single line of the form\n" +
			descriptionMarker + " <one sentence describing the whole video>\n" +
			"followed by a blank line and then the markdown.")
	}

	b.WriteString("Transcript:\n\n")
	b.WriteString(in.Chunk)

	return b.String()
}

func ordinalNote(position, total int) string {
	switch position {
	case 0:
		return "This is the beginning of the transcript; more parts follow."
	case total - 1:
		return "This is the final part of the transcript."
	default:
		return "This is a middle part of the transcript; more parts follow."
	}
}

// Markers models actually emit for the description line. "OPIS" shows up
// when the output language is Polish and the model translates the label.
var descriptionAliases = []string{"description", "opis"}

// extractDescription splits the leading description line off the first
// chunk's refined text. Models restyle the marker (bold, lowercase,
// translated, or with the sentence on the next line), so matching is loose.
// Models sometimes skip it entirely, so absence is not an error.
func extractDescription(refined string) (description, body string) {
	trimmed := strings.TrimSpace(refined)
	line, rest, _ := strings.Cut(trimmed, "\n")

	value, ok := descriptionValue(line)
	if !ok {
		return "", refined
	}

	rest = strings.TrimSpace(rest)
	if value == "" {
		// Marker alone on its line; the sentence follows on the next one.
		value, rest, _ = strings.Cut(rest, "\n")
		value = strings.TrimSpace(value)
		rest = strings.TrimSpace(rest)
	}
	return value, rest
}

// descriptionValue matches lines like "DESCRIPTION: x", "**description:** x"
// or "OPIS: x" and returns the text after the marker.
func descriptionValue(line string) (string, bool) {
	s := strings.TrimLeft(strings.TrimSpace(line), "*_ ")
	for _, alias := range descriptionAliases {
		if len(s) < len(alias) || !strings.EqualFold(s[:len(alias)], alias) {
			continue
		}
		after := strings.TrimLeft(s[len(alias):], "*_ ")
		if !strings.HasPrefix(after, ":") {
			continue
		}
		return strings.Trim(after[1:], "*_ \t"), true
	}
	return "", false
}
