package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/bspstage/internal/config"
	"github.com/danieljhkim/bspstage/internal/fsops"
	"github.com/danieljhkim/bspstage/internal/hash"
	"github.com/danieljhkim/bspstage/internal/journal"
	"github.com/danieljhkim/bspstage/internal/pipeline"
	"github.com/danieljhkim/bspstage/internal/runner"
)

// stack is a driver wired to one filesystem together with the pieces the
// tests inspect afterwards.
type stack struct {
	root   string
	fs     fsops.FS
	store  *journal.FileRecordStore
	hasher *hash.SHA256Hasher
	driver *pipeline.Driver
	pipe   *config.Pipeline
}

// loadPipeline writes content as the pipeline file under a temp directory
// and loads it.
func loadPipeline(t *testing.T, content string) *config.Pipeline {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.DefaultPipelineFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	pipe, err := config.LoadPipeline(path)
	require.NoError(t, err)
	return pipe
}

// newStack wires a driver over fs rooted at root.
func newStack(t *testing.T, fs fsops.FS, root string, run runner.Runner, pipe *config.Pipeline, env map[string]string) *stack {
	t.Helper()
	hasher := hash.NewSHA256Hasher(fs)
	hasher.Skip[".bspstage"] = true
	s := &stack{
		root:   root,
		fs:     fs,
		store:  journal.NewFileRecordStore(fs, filepath.Join(root, ".bspstage", "records")),
		hasher: hasher,
		pipe:   pipe,
	}
	s.driver = pipeline.New(fs, run, s.store, hasher,
		journal.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), time.Second),
		pipeline.WithLookupEnv(func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		}))
	return s
}

// writeMem creates path with content in fs, making parent directories.
func writeMem(t *testing.T, fs fsops.FS, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, fs.AtomicWrite(path, []byte(content), 0644))
}

func readMem(t *testing.T, fs fsops.FS, path string) string {
	t.Helper()
	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
