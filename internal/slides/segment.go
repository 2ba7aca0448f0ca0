package slides

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
)

// DefaultSegmentMaxLength is used when no limit is configured.
const DefaultSegmentMaxLength = 120

// Segment splits text into translation-sized pieces of at most maxLen runes.
// Sentence boundaries are preferred; sentences longer than the limit fall back
// to word boundaries, and a single word longer than the limit stands alone.
// Joining the segments with single spaces gives the whitespace-collapsed input.
func Segment(text string, maxLen int) []domain.TextSegment {
	if maxLen <= 0 {
		maxLen = DefaultSegmentMaxLength
	}
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return nil
	}
	if runeLen(normalized) <= maxLen {
		return []domain.TextSegment{newSegment(normalized, 0)}
	}

	var pieces []string
	current := ""
	flush := func() {
		if current != "" {
			pieces = append(pieces, current)
			current = ""
		}
	}

	for _, sentence := range splitSentences(normalized) {
		if runeLen(sentence) > maxLen {
			flush()
			pieces = append(pieces, splitWords(sentence, maxLen)...)
			continue
		}
		if current != "" && runeLen(current)+1+runeLen(sentence) > maxLen {
			flush()
		}
		if current == "" {
			current = sentence
		} else {
			current += " " + sentence
		}
	}
	flush()

	out := make([]domain.TextSegment, len(pieces))
	for i, p := range pieces {
		out[i] = newSegment(p, i)
	}
	return out
}

// splitSentences splits whitespace-normalized text after runs of . ! or ?
// that are followed by a space. Punctuation stays with its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		j := i
		for j+1 < len(runes) && isSentenceEnd(runes[j+1]) {
			j++
		}
		if j+1 < len(runes) && runes[j+1] == ' ' {
			out = append(out, string(runes[start:j+1]))
			start = j + 2
		}
		i = j
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func splitWords(sentence string, maxLen int) []string {
	var out []string
	current := ""
	for _, w := range strings.Fields(sentence) {
		switch {
		case current == "":
			current = w
		case runeLen(current)+1+runeLen(w) <= maxLen:
			current += " " + w
		default:
			out = append(out, current)
			current = w
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func newSegment(text string, index int) domain.TextSegment {
	return domain.TextSegment{
		Text:               text,
		SegmentIndex:       index,
		IsCompleteSentence: endsSentence(text),
		WordCount:          len(strings.Fields(text)),
		CharCount:          runeLen(text),
	}
}

func endsSentence(text string) bool {
	trimmed := strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '\'' || r == ')' || r == '”' || r == '’'
	})
	r, _ := utf8.DecodeLastRuneInString(trimmed)
	return isSentenceEnd(r)
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
