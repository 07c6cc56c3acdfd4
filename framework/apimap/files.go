package apimap

import (
	"context"
	"io/fs"
	"os"

	"golang.org/x/sync/errgroup"
)

// FileSystem is the slice of file access the builder needs.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
}

// OSFileSystem reads from the local disk.
type OSFileSystem struct{}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }
func (OSFileSystem) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }

// FileMeta captures one stat of a source file.
type FileMeta struct {
	Path   string
	Exists bool
	// Stamp is the modification time in nanoseconds; zero when missing.
	Stamp int64
}

// Sources names the two files the map is extracted from.
type Sources struct {
	Declarations string
	Loaders      string
}

// statPair stats both sources concurrently. Any access error is reported as a
// missing file rather than returned.
func statPair(fsys FileSystem, src Sources) (FileMeta, FileMeta) {
	decl := FileMeta{Path: src.Declarations}
	loaders := FileMeta{Path: src.Loaders}
	var g errgroup.Group
	for _, meta := range []*FileMeta{&decl, &loaders} {
		g.Go(func() error {
			info, err := fsys.Stat(meta.Path)
			if err != nil || info.IsDir() {
				return nil
			}
			meta.Exists = true
			meta.Stamp = info.ModTime().UnixNano()
			return nil
		})
	}
	_ = g.Wait()
	return decl, loaders
}

// readPair reads both sources concurrently. A canceled ctx, or a failed read
// of the other file, stops a read that has not started yet.
func readPair(ctx context.Context, fsys FileSystem, src Sources) (string, string, error) {
	var declText, loaderText string
	g, gctx := errgroup.WithContext(ctx)
	read := func(path string, dst *string) func() error {
		return func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := fsys.ReadFile(path)
			if err != nil {
				return err
			}
			*dst = string(data)
			return nil
		}
	}
	g.Go(read(src.Declarations, &declText))
	g.Go(read(src.Loaders, &loaderText))
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return declText, loaderText, nil
}
