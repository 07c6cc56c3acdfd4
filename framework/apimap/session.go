package apimap

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lexcodex/acelens/framework"
)

// ErrSourcesMissing reports that the declarations or loaders file does not
// exist. Callers treat it as "no annotations", not as a failure.
var ErrSourcesMissing = errors.New("api sources missing")

// Builder extracts a Map from the declarations and loaders files.
type Builder struct {
	FS           FileSystem
	Sources      Sources
	Declarations DeclarationExtractor
	Loaders      *LoaderExtractor
	// Extension is appended to each loader import; defaults to ".ts".
	Extension string
}

// Build reads both sources and composes a fresh Map. Unmatched text only
// shrinks the result; read failures abort the build.
func (b *Builder) Build(ctx context.Context) (Map, error) {
	fsys := b.FS
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	declText, loaderText, err := readPair(ctx, fsys, b.Sources)
	if err != nil {
		return nil, fmt.Errorf("read api sources: %w", err)
	}
	decls := b.declarations().ExtractDeclarations(declText)
	loaders := b.loaders().ExtractLoaders(loaderText)
	return Compose(decls, loaders, b.Sources.Loaders, b.Extension), nil
}

func (b *Builder) declarations() DeclarationExtractor {
	if b.Declarations == nil {
		return CallArgExtractor{}
	}
	return b.Declarations
}

func (b *Builder) loaders() *LoaderExtractor {
	if b.Loaders == nil {
		return NewLoaderExtractor("")
	}
	return b.Loaders
}

type snapshot struct {
	paths        Map
	declStamp    int64
	loadersStamp int64
}

func (s *snapshot) fresh(decl, loaders FileMeta) bool {
	return s != nil && s.paths.Len() > 0 && s.declStamp == decl.Stamp && s.loadersStamp == loaders.Stamp
}

// Session owns the api map for one workspace and rebuilds it only when the
// sources change on disk.
type Session struct {
	Builder   *Builder
	Telemetry framework.Telemetry

	current atomic.Pointer[snapshot]
	group   singleflight.Group
	builds  atomic.Int64
}

// NewSession returns a session around builder.
func NewSession(builder *Builder, telemetry framework.Telemetry) *Session {
	return &Session{Builder: builder, Telemetry: telemetry}
}

// Current returns the map for the files as they are on disk now. It returns
// ErrSourcesMissing when either file is absent, and rebuilds only when the
// map is empty or a modification stamp moved since the last build.
func (s *Session) Current(ctx context.Context) (Map, error) {
	fsys := s.Builder.FS
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	decl, loaders := statPair(fsys, s.Builder.Sources)
	if !decl.Exists || !loaders.Exists {
		framework.Emit(s.Telemetry, framework.Event{
			Type:     framework.EventSourcesMissing,
			Metadata: map[string]interface{}{"declarations": decl.Exists, "loaders": loaders.Exists},
		})
		return nil, ErrSourcesMissing
	}
	if snap := s.current.Load(); snap.fresh(decl, loaders) {
		framework.Emit(s.Telemetry, framework.Event{Type: framework.EventRebuildSkipped, Count: snap.paths.Len()})
		return snap.paths, nil
	}
	key := fmt.Sprintf("%d:%d", decl.Stamp, loaders.Stamp)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.rebuild(ctx, decl, loaders)
	})
	if err != nil {
		return nil, err
	}
	return v.(Map), nil
}

func (s *Session) rebuild(ctx context.Context, decl, loaders FileMeta) (Map, error) {
	prev := s.current.Load()
	if prev.fresh(decl, loaders) {
		return prev.paths, nil
	}
	framework.Emit(s.Telemetry, framework.Event{Type: framework.EventRebuildStart})
	start := time.Now()
	paths, err := s.Builder.Build(ctx)
	if err != nil {
		framework.Emit(s.Telemetry, framework.Event{Type: framework.EventRebuildError, Message: err.Error()})
		return nil, err
	}
	s.builds.Add(1)
	next := &snapshot{
		paths:        paths,
		declStamp:    decl.Stamp,
		loadersStamp: loaders.Stamp,
	}
	// A concurrent rebuild for other stamps may have published first; the
	// loser keeps its own result for this request and leaves the winner.
	s.current.CompareAndSwap(prev, next)
	framework.Emit(s.Telemetry, framework.Event{
		Type:     framework.EventRebuildFinish,
		Count:    paths.Len(),
		Duration: time.Since(start),
	})
	return paths, nil
}

// Invalidate drops the cached map so the next Current call rebuilds.
func (s *Session) Invalidate() {
	s.current.Store(nil)
}

// rebuilds reports how many rebuilds completed.
func (s *Session) rebuilds() int64 {
	return s.builds.Load()
}
