package lens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[string]string

func (m mapResolver) Lookup(name string) (string, bool) {
	p, ok := m[name]
	return p, ok
}

func TestParseImports(t *testing.T) {
	text := `import { a, b as c } from '@ace/apis'
import { other } from '@ace/other'
import {
  d,
  type e,
  f   as   g,
} from "@ace/apis"
`
	imports := ParseImports(text, "")
	assert.Equal(t, []Import{
		{Name: "a", Alias: "a"},
		{Name: "b", Alias: "c"},
		{Name: "d", Alias: "d"},
		{Name: "e", Alias: "e"},
		{Name: "f", Alias: "g"},
	}, imports)
}

func TestParseImportsCustomModule(t *testing.T) {
	text := `import { ping } from '@app/api'`
	assert.Empty(t, ParseImports(text, ""))
	assert.Equal(t, []Import{{Name: "ping", Alias: "ping"}}, ParseImports(text, "@app/api"))
}

func TestAnnotateAliasResolvesOriginalName(t *testing.T) {
	text := "import { a, b as c } from '@ace/apis'\n" +
		"\n" +
		"async function main() {\n" +
		"  const x = 1\n" +
		"  await c(1)\n" +
		"}\n"
	doc := NewDocument("file:///ws/src/main.ts", text)
	resolver := mapResolver{"a": "/ws/src/api/a.ts", "b": "/ws/src/api/b.ts"}

	got := Annotator{}.AnnotateText(doc, resolver)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Line)
	assert.Equal(t, "/ws/src/api/b.ts", got[0].Path)
	assert.Equal(t, Command{
		Title:     DefaultTitle,
		ID:        DefaultCommandID,
		Arguments: []string{"/ws/src/api/b.ts"},
	}, got[0].Command)
}

func TestAnnotateSkipsUnresolvedNames(t *testing.T) {
	text := "import { known, unknown } from '@ace/apis'\nunknown()\nknown ()\n"
	doc := NewDocument("file:///x.ts", text)
	got := Annotator{Title: "open", CommandID: "ace.open"}.AnnotateText(doc, mapResolver{"known": "/p/known.ts"})
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Line)
	assert.Equal(t, "open", got[0].Command.Title)
	assert.Equal(t, "ace.open", got[0].Command.ID)
}

func TestAnnotateRequiresCallAndWordBoundary(t *testing.T) {
	text := "import { get } from '@ace/apis'\n" +
		"const ref = get\n" +
		"forget(1)\n" +
		"get(1); get(2)\n"
	doc := NewDocument("file:///x.ts", text)
	got := Annotator{}.AnnotateText(doc, mapResolver{"get": "/p/get.ts"})
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Line)
	assert.Equal(t, 3, got[1].Line)
}

func TestAnnotateOrdersByImportThenText(t *testing.T) {
	text := "import { a, b } from '@ace/apis'\nb()\na()\nb()\n"
	doc := NewDocument("file:///x.ts", text)
	got := Annotator{}.AnnotateText(doc, mapResolver{"a": "/a.ts", "b": "/b.ts"})
	require.Len(t, got, 3)
	assert.Equal(t, []int{2, 1, 3}, []int{got[0].Line, got[1].Line, got[2].Line})
}

func TestAnnotateNilResolver(t *testing.T) {
	doc := NewDocument("file:///x.ts", "import { a } from '@ace/apis'\na()\n")
	assert.Empty(t, Annotator{}.AnnotateText(doc, nil))
}
