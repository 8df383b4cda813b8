// Package chunk splits a transcript into ordered, bounded segments for
// provider calls. Splitting is deterministic and loses nothing: joining the
// chunks back together with single spaces reproduces the whitespace-normalized
// transcript exactly.
package chunk

import "strings"

// Unit selects how the target size is measured.
type Unit string

const (
	UnitWords Unit = "words"
	UnitChars Unit = "chars"
)

// DefaultSize matches the word budget the cloud providers comfortably take
// in one request.
const DefaultSize = 6000

type Chunk struct {
	Position int
	Text     string
	Words    int
	Chars    int
}

// Document is an ordered, non-overlapping sequence of chunks.
type Document []Chunk

// Text reassembles the original (whitespace-normalized) transcript.
func (d Document) Text() string {
	parts := make([]string, len(d))
	for i, c := range d {
		parts[i] = c.Text
	}
	return strings.Join(parts, " ")
}

// Split breaks text into chunks of at most size units, cutting at the last
// sentence boundary at or before the target. When no boundary falls within
// the look-back window (half of the target), the cut is made at the
// nearest word boundary instead. A single word longer than the target gets a
// chunk of its own rather than being broken apart.
func Split(text string, size int, unit Unit) Document {
	if size <= 0 {
		size = DefaultSize
	}
	if unit != UnitChars {
		unit = UnitWords
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	window := size / 2
	if window < 1 {
		window = 1
	}

	var doc Document
	start := 0
	for start < len(words) {
		end := start
		cost := 0
		boundary := -1
		boundaryCost := 0

		for end < len(words) {
			c := wordCost(words[end], unit)
			if end > start {
				if unit == UnitChars {
					c++ // joining space
				}
				if cost+c > size {
					break
				}
			}
			cost += c
			end++
			if endsSentence(words[end-1]) {
				boundary = end
				boundaryCost = cost
			}
		}

		if end == start {
			// Single word over the target, keep it whole.
			end = start + 1
		}

		// Prefer the sentence boundary unless it is outside the look-back
		// window or we already fit the rest of the transcript.
		if end < len(words) && boundary > start && boundary < end && cost-boundaryCost <= window {
			end = boundary
		}

		span := strings.Join(words[start:end], " ")
		doc = append(doc, Chunk{
			Position: len(doc),
			Text:     span,
			Words:    end - start,
			Chars:    len(span),
		})
		start = end
	}

	return doc
}

func wordCost(word string, unit Unit) int {
	if unit == UnitChars {
		return len(word)
	}
	return 1
}

func endsSentence(word string) bool {
	trimmed := strings.TrimRight(word, `"')]`)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
