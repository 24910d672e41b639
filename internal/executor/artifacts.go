// internal/executor/artifacts.go
package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/internal/browser"
)

// screenshotName is the only filename shape the store ever writes, and the
// only one it will serve back.
var screenshotName = regexp.MustCompile(`^step_[0-9]{4}\.png$`)

// taskIDPattern keeps task directories flat under the root: no separators, no
// dot segments. Generated ids are UUIDs, which always match.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ArtifactStore persists per-task artifacts (currently screenshots) under a
// single root directory, one subdirectory per task id.
type ArtifactStore struct {
	root   string
	logger *zap.Logger

	mu       sync.Mutex
	counters map[string]int
}

func NewArtifactStore(root string, logger *zap.Logger) *ArtifactStore {
	return &ArtifactStore{
		root:     root,
		logger:   logger.Named("artifacts"),
		counters: make(map[string]int),
	}
}

// SinkFor returns a screenshot sink that writes sequentially numbered PNGs
// into the task's directory. The directory is created on first write.
func (s *ArtifactStore) SinkFor(taskID string) browser.ScreenshotSink {
	return func(data []byte) (string, error) {
		s.mu.Lock()
		s.counters[taskID]++
		seq := s.counters[taskID]
		s.mu.Unlock()

		dir := filepath.Join(s.root, taskID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create artifacts dir: %w", err)
		}

		name := fmt.Sprintf("step_%04d.png", seq)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write screenshot: %w", err)
		}

		s.logger.Debug("Screenshot saved.",
			zap.String("task_id", taskID),
			zap.String("path", path),
		)
		return path, nil
	}
}

// List returns the task's screenshot filenames, oldest first. A task with no
// artifacts yet lists as empty.
func (s *ArtifactStore) List(taskID string) ([]string, error) {
	if !taskIDPattern.MatchString(taskID) {
		return nil, fmt.Errorf("invalid task id %q", taskID)
	}
	entries, err := os.ReadDir(filepath.Join(s.root, taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && screenshotName.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Resolve maps a screenshot name back to its path, rejecting anything that
// is not a name this store could have written. Traversal attempts fail here,
// in the task id as well as the filename.
func (s *ArtifactStore) Resolve(taskID, name string) (string, error) {
	if !taskIDPattern.MatchString(taskID) {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	if !screenshotName.MatchString(name) {
		return "", fmt.Errorf("invalid screenshot name %q", name)
	}
	path := filepath.Join(s.root, taskID, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("screenshot not found: %w", err)
	}
	return path, nil
}
