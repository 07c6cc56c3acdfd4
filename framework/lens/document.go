package lens

import "sort"

// Position is a zero-based line/character pair. Character counts bytes from
// the start of the line.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Document is an immutable view over a source file's text.
type Document struct {
	URI   string
	Text  string
	lines []int
}

// NewDocument indexes the line starts of text.
func NewDocument(uri, text string) *Document {
	lines := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, i+1)
		}
	}
	return &Document{URI: uri, Text: text, lines: lines}
}

// PositionAt converts a byte offset into a position. Offsets outside the text
// are clamped.
func (d *Document) PositionAt(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(d.Text) {
		offset = len(d.Text)
	}
	line := sort.Search(len(d.lines), func(i int) bool { return d.lines[i] > offset }) - 1
	if line < 0 {
		line = 0
	}
	return Position{Line: line, Character: offset - d.lines[line]}
}

// lineCount reports the number of lines in the document.
func (d *Document) lineCount() int { return len(d.lines) }
