package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSinkNumbersScreenshotsPerTask(t *testing.T) {
	store := NewArtifactStore(t.TempDir(), zaptest.NewLogger(t))

	sinkA := store.SinkFor("task-a")
	sinkB := store.SinkFor("task-b")

	pathA1, err := sinkA([]byte("a1"))
	require.NoError(t, err)
	pathA2, err := sinkA([]byte("a2"))
	require.NoError(t, err)
	pathB1, err := sinkB([]byte("b1"))
	require.NoError(t, err)

	assert.Equal(t, "step_0001.png", filepath.Base(pathA1))
	assert.Equal(t, "step_0002.png", filepath.Base(pathA2))
	// Counters are per task, not global.
	assert.Equal(t, "step_0001.png", filepath.Base(pathB1))

	data, err := os.ReadFile(pathA2)
	require.NoError(t, err)
	assert.Equal(t, []byte("a2"), data)
}

func TestListIsSortedAndScoped(t *testing.T) {
	store := NewArtifactStore(t.TempDir(), zaptest.NewLogger(t))
	sink := store.SinkFor("task-a")
	for i := 0; i < 3; i++ {
		_, err := sink([]byte("x"))
		require.NoError(t, err)
	}

	names, err := store.List("task-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"step_0001.png", "step_0002.png", "step_0003.png"}, names)

	// A task with no artifacts lists empty rather than erroring.
	names, err = store.List("task-b")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListIgnoresForeignFiles(t *testing.T) {
	root := t.TempDir()
	store := NewArtifactStore(root, zaptest.NewLogger(t))
	_, err := store.SinkFor("task-a")([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "task-a", "notes.txt"), []byte("y"), 0o644))

	names, err := store.List("task-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"step_0001.png"}, names)
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	store := NewArtifactStore(root, zaptest.NewLogger(t))
	_, err := store.SinkFor("task-a")([]byte("x"))
	require.NoError(t, err)

	path, err := store.Resolve("task-a", "step_0001.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "task-a", "step_0001.png"), path)

	for _, name := range []string{
		"../task-a/step_0001.png",
		"..",
		"step_1.png",
		"step_0001.png.bak",
		"/etc/passwd",
	} {
		_, err := store.Resolve("task-a", name)
		assert.Errorf(t, err, "name %q must be rejected", name)
	}

	_, err = store.Resolve("task-a", "step_0002.png")
	assert.Error(t, err, "missing screenshots are not resolvable")
}

func TestTaskIDsAreValidated(t *testing.T) {
	root := t.TempDir()
	store := NewArtifactStore(root, zaptest.NewLogger(t))

	// Plant a screenshot-shaped file next to the root; a traversal id would
	// reach it.
	outside := filepath.Dir(root)
	require.NoError(t, os.WriteFile(filepath.Join(outside, "step_0001.png"), []byte("x"), 0o644))

	for _, id := range []string{
		"..",
		"../",
		"../other",
		"task/../..",
		"a/b",
		".hidden",
		"",
	} {
		_, err := store.List(id)
		assert.Errorf(t, err, "List must reject task id %q", id)

		_, err = store.Resolve(id, "step_0001.png")
		assert.Errorf(t, err, "Resolve must reject task id %q", id)
	}

	// UUID-shaped and simple ids remain fine.
	names, err := store.List("4d0ea1c0-4c2f-4b8e-9f37-2f6f54d1a001")
	require.NoError(t, err)
	assert.Empty(t, names)
}
