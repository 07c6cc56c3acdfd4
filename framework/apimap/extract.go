package apimap

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultImportPrefix is the relative prefix every loader import must carry.
const DefaultImportPrefix = "../../src/api/"

// DefaultImportExtension is appended to loader imports when resolving them.
const DefaultImportExtension = ".ts"

// Variant names a declaration extraction strategy.
type Variant string

const (
	// VariantCallArg scans `export const x = createApiFn(a, b, c, apiLoaders.y)`.
	VariantCallArg Variant = "call"
	// VariantKeyedObject scans `x: { ..., loader: apiLoaders.y }`.
	VariantKeyedObject Variant = "keyed"
)

// DeclarationExtractor pulls api name -> loader name associations out of the
// declarations file. Implementations never fail; text they cannot match is
// skipped.
type DeclarationExtractor interface {
	Variant() Variant
	ExtractDeclarations(text string) map[string]string
}

// NewDeclarationExtractor returns the extractor registered for variant.
func NewDeclarationExtractor(variant Variant) (DeclarationExtractor, error) {
	switch variant {
	case "", VariantCallArg:
		return CallArgExtractor{}, nil
	case VariantKeyedObject:
		return KeyedObjectExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extraction variant %q", variant)
	}
}

var callArgPattern = regexp.MustCompile(`export\s+const\s+(\w+)\s*=\s*createApiFn\([^,]+,[^,]+,[^,]+,\s*apiLoaders\.(\w+)\)`)

// CallArgExtractor matches the loader passed as the fourth createApiFn argument.
type CallArgExtractor struct{}

func (CallArgExtractor) Variant() Variant { return VariantCallArg }

func (CallArgExtractor) ExtractDeclarations(text string) map[string]string {
	return collectPairs(callArgPattern, text)
}

// keyedObjectPattern accepts a bare key or one fully wrapped in matching
// quotes. Entries nesting another object before loader are not matched.
var keyedObjectPattern = regexp.MustCompile(`(?:'(\w+)'|"(\w+)"|\b(\w+))\s*:\s*\{[^{}]*?\bloader\s*:\s*(?:apiLoaders\.)?(\w+)`)

// KeyedObjectExtractor matches object literal entries carrying a loader field.
type KeyedObjectExtractor struct{}

func (KeyedObjectExtractor) Variant() Variant { return VariantKeyedObject }

func (KeyedObjectExtractor) ExtractDeclarations(text string) map[string]string {
	return collectPairs(keyedObjectPattern, text)
}

// collectPairs reads the api name from the first non-empty group and the
// loader from the last one.
func collectPairs(re *regexp.Regexp, text string) map[string]string {
	out := make(map[string]string)
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		last := len(m) - 1
		for _, name := range m[1:last] {
			if name != "" {
				out[name] = m[last]
				break
			}
		}
	}
	return out
}

// LoaderImport is one loader function and the module it dynamically imports.
type LoaderImport struct {
	Loader string
	Import string
}

// LoaderExtractor scans the loaders file. The body match is lazy, so a loader
// without an import borrows the next function's import.
type LoaderExtractor struct {
	pattern *regexp.Regexp
}

// NewLoaderExtractor builds an extractor for imports starting with prefix.
func NewLoaderExtractor(prefix string) *LoaderExtractor {
	if prefix == "" {
		prefix = DefaultImportPrefix
	}
	expr := `export\s+async\s+function\s+(\w+)\s*\([^)]*\)\s*\{[\s\S]*?import\(["'](` +
		regexp.QuoteMeta(prefix) + `[^"']+)["']\)`
	return &LoaderExtractor{pattern: regexp.MustCompile(expr)}
}

// ExtractLoaders returns the loader imports in file order.
func (l *LoaderExtractor) ExtractLoaders(text string) []LoaderImport {
	matches := l.pattern.FindAllStringSubmatch(text, -1)
	out := make([]LoaderImport, 0, len(matches))
	for _, m := range matches {
		out = append(out, LoaderImport{Loader: m[1], Import: m[2]})
	}
	return out
}

// Compose joins api -> loader with loader -> import into api -> absolute path.
// Imports resolve against the directory of loadersPath. A loader listed twice
// resolves to its last import.
func Compose(decls map[string]string, loaders []LoaderImport, loadersPath, ext string) Map {
	if ext == "" {
		ext = DefaultImportExtension
	}
	dir := filepath.Dir(loadersPath)
	out := make(Map, len(decls))
	for _, li := range loaders {
		target := resolveImport(dir, li.Import, ext)
		for api, loader := range decls {
			if loader == li.Loader {
				out[api] = target
			}
		}
	}
	return out
}

func resolveImport(dir, rel, ext string) string {
	rel = filepath.FromSlash(strings.TrimSpace(rel)) + ext
	joined := filepath.Join(dir, rel)
	if abs, err := filepath.Abs(joined); err == nil {
		return abs
	}
	return joined
}
