package lens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionAt(t *testing.T) {
	doc := NewDocument("file:///x.ts", "ab\ncd\n\nef")
	assert.Equal(t, 4, doc.lineCount())
	assert.Equal(t, Position{Line: 0, Character: 0}, doc.PositionAt(0))
	assert.Equal(t, Position{Line: 0, Character: 2}, doc.PositionAt(2))
	assert.Equal(t, Position{Line: 1, Character: 0}, doc.PositionAt(3))
	assert.Equal(t, Position{Line: 2, Character: 0}, doc.PositionAt(6))
	assert.Equal(t, Position{Line: 3, Character: 1}, doc.PositionAt(8))
	assert.Equal(t, Position{Line: 3, Character: 2}, doc.PositionAt(100))
	assert.Equal(t, Position{Line: 0, Character: 0}, doc.PositionAt(-5))
}
