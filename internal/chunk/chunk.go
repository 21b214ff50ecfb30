// Package chunk splits knowledge documents into embedding-sized pieces.
//
// Documents are treated as Markdown-ish text: paragraphs are split on blank
// lines, whitespace runs are collapsed, short fragments are dropped, and
// paragraphs beyond the rune cap are divided at word boundaries. Table rows
// can be flattened into plain fact lines first so tabular knowledge
// survives paragraph splitting.
//
//   - No logging in the library (callers decide how/what to log)
//   - Deterministic output for identical input
//   - Sensible defaults, tunable via functional options
package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type Option func(*config)

type config struct {
	minRunes  int
	maxRunes  int
	maxChunks int
}

func defaultConfig() config {
	return config{
		minRunes:  20,
		maxRunes:  1000,
		maxChunks: 0,
	}
}

// WithMinRunes drops paragraphs shorter than n runes. Zero keeps everything.
func WithMinRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minRunes = n
		}
	}
}

// WithMaxRunes caps chunk length; longer paragraphs are split at word
// boundaries.
func WithMaxRunes(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxRunes = n
		}
	}
}

// WithMaxChunks caps the number of chunks produced from one document.
func WithMaxChunks(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxChunks = n
		}
	}
}

var paraSplitRE = regexp.MustCompile(`\n\s*\n`)

// Split breaks a document into clean, capped chunks. Empty input yields no
// chunks.
func Split(text string, opts ...Option) []string {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	paras := paraSplitRE.Split(text, -1)
	out := make([]string, 0, len(paras))
	for _, raw := range paras {
		p := strings.TrimSpace(normalizeWhitespace(raw))
		if p == "" {
			continue
		}
		if cfg.minRunes > 0 && utf8.RuneCountInString(p) < cfg.minRunes {
			continue
		}
		for _, piece := range splitLong(p, cfg.maxRunes) {
			out = append(out, piece)
			if cfg.maxChunks > 0 && len(out) >= cfg.maxChunks {
				return out
			}
		}
	}
	return out
}

// FlattenTables rewrites Markdown table rows as plain "cell cell cell"
// lines and drops separator rows, leaving every other line untouched.
// Consecutive rows stay contiguous, so a table chunks as one paragraph.
// Text without tables is returned unchanged.
func FlattenTables(text string) string {
	if !strings.Contains(text, "|") {
		return text
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	sawTable := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 1 && strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") {
			sawTable = true
			cells, allSep := splitTableRow(trimmed)
			if allSep || len(cells) == 0 {
				continue
			}
			out = append(out, strings.Join(cells, " "))
			continue
		}
		out = append(out, line)
	}
	if !sawTable {
		return text
	}
	return strings.Join(out, "\n")
}

// splitTableRow splits "| a | b |" into trimmed cells and reports whether
// the row is a header separator (only dashes and colons).
func splitTableRow(line string) (cells []string, allSep bool) {
	raw := strings.Trim(line, "|")
	cols := strings.Split(raw, "|")
	allSep = true
	for _, c := range cols {
		cell := strings.TrimSpace(c)
		if cell != "" {
			cells = append(cells, cell)
		}
		tmp := strings.ReplaceAll(cell, ":", "")
		tmp = strings.ReplaceAll(tmp, "-", "")
		if strings.TrimSpace(tmp) != "" {
			allSep = false
		}
	}
	return cells, allSep
}

// splitLong divides a paragraph into pieces of at most limit runes,
// breaking at word boundaries. A single word longer than limit is split
// mid-word.
func splitLong(p string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(p) <= limit {
		return []string{p}
	}

	var out []string
	var b strings.Builder
	count := 0
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
			count = 0
		}
	}
	for _, w := range strings.Fields(p) {
		wl := utf8.RuneCountInString(w)
		if wl > limit {
			flush()
			out = append(out, hardSplit(w, limit)...)
			continue
		}
		if count > 0 && count+1+wl > limit {
			flush()
		}
		if count > 0 {
			b.WriteByte(' ')
			count++
		}
		b.WriteString(w)
		count += wl
	}
	flush()
	return out
}

// hardSplit cuts a string into limit-rune slices.
func hardSplit(s string, limit int) []string {
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// normalizeWhitespace collapses every whitespace run, including soft line
// wraps inside a paragraph, to a single space.
func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
