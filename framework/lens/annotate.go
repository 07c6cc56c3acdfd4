package lens

import (
	"regexp"
	"strings"
)

// DefaultModuleAlias is the module the api functions are imported from.
const DefaultModuleAlias = "@ace/apis"

// DefaultCommandID is the command the client runs when a lens is clicked.
const DefaultCommandID = "ace-vs-code.openApi"

// DefaultTitle is the text rendered for each lens.
const DefaultTitle = "🔗 API"

// Import records one name bound by an import statement.
type Import struct {
	Name  string
	Alias string
}

// Command is the action attached to an annotation.
type Command struct {
	Title     string   `json:"title"`
	ID        string   `json:"command"`
	Arguments []string `json:"arguments"`
}

// Annotation is a zero-width marker at the start of Line.
type Annotation struct {
	Line    int     `json:"line"`
	Path    string  `json:"path"`
	Command Command `json:"command"`
}

// Resolver looks up the implementation path for an api name.
type Resolver interface {
	Lookup(name string) (string, bool)
}

var (
	aliasSplit   = regexp.MustCompile(`\s+as\s+`)
	typeModifier = regexp.MustCompile(`^type\s+`)
)

func importPattern(module string) *regexp.Regexp {
	return regexp.MustCompile(`import\s+\{([^}]+)\}\s+from\s+['"]` + regexp.QuoteMeta(module) + `['"]`)
}

// ParseImports collects every name imported from module, in source order.
func ParseImports(text, module string) []Import {
	if module == "" {
		module = DefaultModuleAlias
	}
	var imports []Import
	for _, m := range importPattern(module).FindAllStringSubmatch(text, -1) {
		for _, entry := range strings.Split(m[1], ",") {
			entry = typeModifier.ReplaceAllString(strings.TrimSpace(entry), "")
			if entry == "" {
				continue
			}
			parts := aliasSplit.Split(entry, 2)
			name := strings.TrimSpace(parts[0])
			alias := name
			if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
				alias = strings.TrimSpace(parts[1])
			}
			if name == "" {
				continue
			}
			imports = append(imports, Import{Name: name, Alias: alias})
		}
	}
	return imports
}

// Annotator places one annotation above each call of an imported api.
type Annotator struct {
	Module    string
	CommandID string
	Title     string
}

// Annotate scans doc for calls through each import's alias and emits an
// annotation for those whose original name resolves. Output follows import
// order, then text order.
func (a Annotator) Annotate(doc *Document, imports []Import, resolver Resolver) []Annotation {
	if resolver == nil {
		return nil
	}
	var out []Annotation
	for _, imp := range imports {
		path, ok := resolver.Lookup(imp.Name)
		if !ok {
			continue
		}
		call := regexp.MustCompile(`\b` + regexp.QuoteMeta(imp.Alias) + `\s*\(`)
		for _, loc := range call.FindAllStringIndex(doc.Text, -1) {
			out = append(out, Annotation{
				Line: doc.PositionAt(loc[0]).Line,
				Path: path,
				Command: Command{
					Title:     a.title(),
					ID:        a.commandID(),
					Arguments: []string{path},
				},
			})
		}
	}
	return out
}

// AnnotateText parses imports and annotates in one step.
func (a Annotator) AnnotateText(doc *Document, resolver Resolver) []Annotation {
	return a.Annotate(doc, ParseImports(doc.Text, a.Module), resolver)
}

func (a Annotator) title() string {
	if a.Title == "" {
		return DefaultTitle
	}
	return a.Title
}

func (a Annotator) commandID() string {
	if a.CommandID == "" {
		return DefaultCommandID
	}
	return a.CommandID
}
