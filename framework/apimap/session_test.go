package apimap

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/acelens/framework"
)

type countingFS struct {
	OSFileSystem
	reads   atomic.Int64
	readErr error
}

func (c *countingFS) ReadFile(name string) ([]byte, error) {
	c.reads.Add(1)
	if c.readErr != nil {
		return nil, c.readErr
	}
	return c.OSFileSystem.ReadFile(name)
}

type recordingTelemetry struct {
	mu     sync.Mutex
	events []framework.Event
}

func (r *recordingTelemetry) Emit(e framework.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingTelemetry) count(kind framework.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == kind {
			n++
		}
	}
	return n
}

func writeSources(t *testing.T, root, decls, loaders string) Sources {
	t.Helper()
	dir := filepath.Join(root, ".ace", "fundamentals")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	src := Sources{
		Declarations: filepath.Join(dir, "apis.ts"),
		Loaders:      filepath.Join(dir, "apiLoaders.ts"),
	}
	require.NoError(t, os.WriteFile(src.Declarations, []byte(decls), 0o644))
	require.NoError(t, os.WriteFile(src.Loaders, []byte(loaders), 0o644))
	return src
}

func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, at, at))
}

func newTestSession(src Sources, fsys FileSystem, tel framework.Telemetry) *Session {
	return NewSession(&Builder{
		FS:           fsys,
		Sources:      src,
		Declarations: CallArgExtractor{},
		Loaders:      NewLoaderExtractor(""),
	}, tel)
}

func TestSessionBuildsMap(t *testing.T) {
	root := t.TempDir()
	src := writeSources(t, root, callArgDeclarations, loaderSource)
	session := newTestSession(src, nil, nil)

	m, err := session.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	path, ok := m.Lookup("apiCreatePost")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "src", "api", "post", "createPost.ts"), path)
}

func TestSessionReusesMapWhenStampsUnchanged(t *testing.T) {
	src := writeSources(t, t.TempDir(), callArgDeclarations, loaderSource)
	fsys := &countingFS{}
	tel := &recordingTelemetry{}
	session := newTestSession(src, fsys, tel)
	ctx := context.Background()

	_, err := session.Current(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, fsys.reads.Load())

	for i := 0; i < 3; i++ {
		m, err := session.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, m.Len())
	}
	assert.EqualValues(t, 2, fsys.reads.Load())
	assert.EqualValues(t, 1, session.rebuilds())
	assert.Equal(t, 3, tel.count(framework.EventRebuildSkipped))
}

func TestSessionRebuildsOnceAfterStampChange(t *testing.T) {
	src := writeSources(t, t.TempDir(), callArgDeclarations, loaderSource)
	fsys := &countingFS{}
	session := newTestSession(src, fsys, nil)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	touch(t, src.Declarations, base)
	touch(t, src.Loaders, base)
	_, err := session.Current(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, session.rebuilds())

	require.NoError(t, os.WriteFile(src.Declarations, []byte(callArgDeclarations+
		"export const apiPing = createApiFn('/ping', 'GET', 'apiPing', apiLoaders.apiGetUser)\n"), 0o644))
	touch(t, src.Declarations, base.Add(time.Minute))

	m, err := session.Current(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, session.rebuilds())
	assert.Equal(t, 4, m.Len())

	_, err = session.Current(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, session.rebuilds())

	touch(t, src.Loaders, base.Add(2*time.Minute))
	_, err = session.Current(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, session.rebuilds())
	assert.EqualValues(t, 6, fsys.reads.Load())
}

func TestSessionMissingSources(t *testing.T) {
	root := t.TempDir()
	src := writeSources(t, root, callArgDeclarations, loaderSource)
	require.NoError(t, os.Remove(src.Loaders))
	tel := &recordingTelemetry{}
	session := newTestSession(src, nil, tel)

	m, err := session.Current(context.Background())
	assert.ErrorIs(t, err, ErrSourcesMissing)
	assert.Zero(t, m.Len())
	assert.Equal(t, 1, tel.count(framework.EventSourcesMissing))
	assert.Zero(t, session.rebuilds())
}

func TestSessionReadFailureAbortsBuild(t *testing.T) {
	src := writeSources(t, t.TempDir(), callArgDeclarations, loaderSource)
	fsys := &countingFS{readErr: fs.ErrPermission}
	session := newTestSession(src, fsys, nil)

	_, err := session.Current(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrPermission))
	assert.Zero(t, session.rebuilds())

	fsys.readErr = nil
	m, err := session.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
}

func TestBuildStopsOnCanceledContext(t *testing.T) {
	src := writeSources(t, t.TempDir(), callArgDeclarations, loaderSource)
	fsys := &countingFS{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := newTestSession(src, fsys, nil)
	_, err := session.Current(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fsys.reads.Load())
	assert.Zero(t, session.rebuilds())

	m, err := session.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
}

func TestSessionEmptyMapRebuildsEveryRequest(t *testing.T) {
	src := writeSources(t, t.TempDir(), "// nothing here\n", loaderSource)
	session := newTestSession(src, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		m, err := session.Current(ctx)
		require.NoError(t, err)
		assert.Zero(t, m.Len())
	}
	assert.EqualValues(t, 2, session.rebuilds())
}

func TestSessionInvalidate(t *testing.T) {
	src := writeSources(t, t.TempDir(), callArgDeclarations, loaderSource)
	session := newTestSession(src, nil, nil)
	ctx := context.Background()

	_, err := session.Current(ctx)
	require.NoError(t, err)
	session.Invalidate()
	_, err = session.Current(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, session.rebuilds())
}

func TestSessionConcurrentRequestsShareOneBuild(t *testing.T) {
	src := writeSources(t, t.TempDir(), callArgDeclarations, loaderSource)
	session := newTestSession(src, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := session.Current(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 3, m.Len())
		}()
	}
	wg.Wait()
	_, err := session.Current(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, session.rebuilds(), int64(8))
	assert.GreaterOrEqual(t, session.rebuilds(), int64(1))
}
