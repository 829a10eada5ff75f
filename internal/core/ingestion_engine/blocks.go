package ingestion_engine

import (
	"iter"
	"strings"
)

// DefaultTargetTokens bounds a paragraph block built from line-oriented text.
const DefaultTargetTokens = 512

// block is a run of consecutive lines emitted as one element.
type block struct {
	Pos      int
	Text     string
	TokenCnt int
}

// groupBlocks folds lines into paragraph blocks. A blank line closes the
// current block, as does reaching targetTokens. Leading and trailing
// whitespace is trimmed from each line; empty blocks are never emitted.
func groupBlocks(lines iter.Seq[string], targetTokens int) iter.Seq[block] {
	if targetTokens <= 0 {
		targetTokens = DefaultTargetTokens
	}
	return func(yield func(block) bool) {
		var (
			buf    []string
			tokSum int
			pos    int
		)

		flush := func() bool {
			if len(buf) == 0 {
				return true
			}
			b := block{Pos: pos, Text: strings.Join(buf, "\n"), TokenCnt: tokSum}
			pos++
			buf = buf[:0]
			tokSum = 0
			return yield(b)
		}

		for line := range lines {
			line = strings.TrimSpace(line)
			if line == "" {
				if !flush() {
					return
				}
				continue
			}
			buf = append(buf, line)
			tokSum += approxTokens(line)
			if tokSum >= targetTokens {
				if !flush() {
					return
				}
			}
		}
		flush()
	}
}

// splitLines iterates the lines of s without allocating a slice of them.
func splitLines(s string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for line := range strings.Lines(s) {
			if !yield(strings.TrimRight(line, "\r\n")) {
				return
			}
		}
	}
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
