package book

import (
	"strings"
	"unicode/utf8"
)

// Span is one segmenter output: a piece of filtered text no longer than the
// configured maximum. Truncated marks a forced mid-word cut, which only
// happens when a single unbroken token exceeds the limit.
type Span struct {
	Text      string
	Truncated bool
}

// Segment splits filtered text into spans of at most maxLen runes, breaking
// preferentially at sentence terminators, then clause punctuation, then
// whitespace, and never inside a word unless a single token exceeds maxLen.
//
// Joining the emitted spans with a single space (or nothing, after a span
// marked Truncated) reconstructs the input exactly.
//
// A non-positive maxLen is treated as 1, the smallest limit that still
// guarantees progress on any input.
func Segment(text string, maxLen int) []Span {
	if maxLen < 1 {
		maxLen = 1
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= maxLen {
		return []Span{{Text: text}}
	}

	var spans []Span
	pack(splitSentences(text), maxLen, &spans, splitSentenceOversize)
	return spans
}

// pack greedily accumulates parts into spans up to maxLen runes. Parts that
// are themselves oversize are handed to the fallback splitter.
func pack(parts []string, maxLen int, spans *[]Span, oversize func(string, int, *[]Span)) {
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			*spans = append(*spans, Span{Text: cur.String()})
			cur.Reset()
			curLen = 0
		}
	}
	for _, part := range parts {
		partLen := utf8.RuneCountInString(part)
		if partLen > maxLen {
			flush()
			oversize(part, maxLen, spans)
			continue
		}
		if curLen > 0 && curLen+1+partLen > maxLen {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(part)
		curLen += partLen
	}
	flush()
}

func splitSentenceOversize(sentence string, maxLen int, spans *[]Span) {
	pack(splitClauses(sentence), maxLen, spans, splitClauseOversize)
}

func splitClauseOversize(clause string, maxLen int, spans *[]Span) {
	pack(strings.Fields(clause), maxLen, spans, splitLongToken)
}

// splitLongToken is the last resort for a token with no whitespace at all:
// it is cut into maxLen-rune pieces. Every piece that ends at a forced cut is
// flagged so the run report can surface it.
func splitLongToken(token string, maxLen int, spans *[]Span) {
	runes := []rune(token)
	for len(runes) > maxLen {
		*spans = append(*spans, Span{Text: string(runes[:maxLen]), Truncated: true})
		runes = runes[maxLen:]
	}
	if len(runes) > 0 {
		*spans = append(*spans, Span{Text: string(runes)})
	}
}

func splitSentences(text string) []string {
	return splitAfter(text, isSentenceEnd)
}

func splitClauses(text string) []string {
	return splitAfter(text, func(r rune) bool {
		return isSentenceEnd(r) || isClauseBreak(r)
	})
}

// splitAfter cuts text after any rune accepted by end (plus trailing closing
// quotes or brackets) that is followed by a space. The punctuation stays with
// the preceding piece, so rejoining pieces with single spaces restores the
// input.
func splitAfter(text string, end func(rune) bool) []string {
	runes := []rune(text)
	var parts []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !end(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isClosing(runes[j]) {
			j++
		}
		if j >= len(runes) || runes[j] != ' ' {
			i = j - 1
			continue
		}
		parts = append(parts, string(runes[start:j]))
		start = j + 1
		i = j
	}
	if start < len(runes) {
		parts = append(parts, string(runes[start:]))
	}
	return parts
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isClauseBreak(r rune) bool {
	switch r {
	case ',', ';', ':', '—', '–':
		return true
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', ')', ']', '»':
		return true
	}
	return false
}
