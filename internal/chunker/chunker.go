// Package chunker splits long block text into windows small enough to embed.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxRunes = 1200
	DefaultOverlap  = 120
)

// Options configures window sizes, measured in runes.
type Options struct {
	MaxRunes int // upper bound per window
	Overlap  int // runes repeated between windows cut inside a paragraph
}

// DefaultOptions returns default window options.
func DefaultOptions() Options {
	return Options{MaxRunes: DefaultMaxRunes, Overlap: DefaultOverlap}
}

// Split returns text as one or more windows. Text that fits in one window is
// returned whole. Longer text is cut at markdown headings and blank lines,
// neighbouring paragraphs are packed together, and paragraphs that are still
// too long are cut between words with Overlap runes carried over.
func Split(text string, opts Options) []string {
	if opts.MaxRunes <= 0 {
		opts = DefaultOptions()
	}
	if opts.Overlap >= opts.MaxRunes {
		opts.Overlap = opts.MaxRunes / 4
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= opts.MaxRunes {
		return []string{text}
	}

	var out []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, p := range paragraphs(text) {
		n := utf8.RuneCountInString(p)
		if n > opts.MaxRunes {
			flush()
			out = append(out, cutWords(p, opts)...)
			continue
		}
		sep := 0
		if curLen > 0 {
			sep = 2
		}
		if curLen+sep+n > opts.MaxRunes {
			flush()
			sep = 0
		}
		if sep > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
		curLen += sep + n
	}
	flush()
	return out
}

// paragraphs breaks text before headings and at blank lines.
func paragraphs(text string) []string {
	var out []string
	var cur []string
	flush := func() {
		if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
			out = append(out, p)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "#"):
			flush()
			cur = append(cur, line)
		default:
			cur = append(cur, line)
		}
	}
	flush()
	return out
}

// cutWords splits one long paragraph between words. A single word longer
// than MaxRunes is cut mid-word.
func cutWords(p string, opts Options) []string {
	words := strings.Fields(p)
	var out []string
	var cur []string
	curLen := 0

	for _, w := range words {
		for utf8.RuneCountInString(w) > opts.MaxRunes {
			if curLen > 0 {
				out = append(out, strings.Join(cur, " "))
				cur, curLen = nil, 0
			}
			r := []rune(w)
			out = append(out, string(r[:opts.MaxRunes]))
			w = string(r[opts.MaxRunes:])
		}
		n := utf8.RuneCountInString(w)
		if curLen > 0 && curLen+1+n > opts.MaxRunes {
			out = append(out, strings.Join(cur, " "))
			cur, curLen = tail(cur, opts.Overlap)
			if curLen > 0 && curLen+1+n > opts.MaxRunes {
				cur, curLen = nil, 0
			}
		}
		if curLen > 0 {
			curLen++
		}
		cur = append(cur, w)
		curLen += n
	}
	if curLen > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

// tail keeps the trailing words of ws whose joined length fits in budget.
func tail(ws []string, budget int) ([]string, int) {
	if budget <= 0 {
		return nil, 0
	}
	n := 0
	i := len(ws)
	for i > 0 {
		l := utf8.RuneCountInString(ws[i-1])
		if n > 0 {
			l++
		}
		if n+l > budget {
			break
		}
		n += l
		i--
	}
	return append([]string(nil), ws[i:]...), n
}
