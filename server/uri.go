package server

import (
	"path/filepath"
	"strings"

	"go.lsp.dev/uri"
)

func pathToURI(path string) string {
	return string(uri.File(filepath.Clean(path)))
}

// uriToPath returns "" for anything that is not a file URI.
func uriToPath(raw string) string {
	if !strings.HasPrefix(raw, uri.FileScheme+"://") {
		return ""
	}
	return uri.URI(raw).Filename()
}
