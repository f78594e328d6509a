package pyro

import "fmt"

// Pos identifies a single point in a named source: the source-id the
// embedder supplied when it handed the lexer this text, and a
// 1-based line number. Syntax errors and panics always carry a Pos so
// a stack trace can point back at real source text even before any
// call frame exists.
type Pos struct {
	SourceID string
	Line     int
}

func (p Pos) String() string {
	return fmt.Sprintf("%s:%d", p.SourceID, p.Line)
}

// lineIndex turns byte offsets into 1-based line numbers for a single
// source text via binary search over line-start offsets.
type lineIndex struct {
	lineStart []int
}

func newLineIndex(src []byte) *lineIndex {
	starts := make([]int, 1, 64)
	starts[0] = 0
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{lineStart: starts}
}

func (li *lineIndex) lineAt(offset int) int {
	lo, hi := 0, len(li.lineStart)-1
	line := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if li.lineStart[mid] <= offset {
			line = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return line + 1
}
