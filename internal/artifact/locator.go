package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuongbtq/voice-relay/internal/worker/domain"
)

// Reasons carried by NotFoundError
const (
	ReasonNoFolders      = "no folders"
	ReasonNoMatchingFile = "no matching file"
	ReasonEmptyFolder    = "empty folder"
)

// LocatorConfig holds the artifact lookup rules
type LocatorConfig struct {
	CanonicalName string
	Extensions    []string
}

// Candidate is one output folder found under the watched root
type Candidate struct {
	Name       string
	Path       string
	ModifiedAt time.Time
	CreatedAt  time.Time
}

// Artifact is the file selected for the finished job
type Artifact struct {
	Path       string
	Size       int64
	ModifiedAt time.Time
	Folder     string
}

// NotFoundError reports why no artifact could be selected
type NotFoundError struct {
	Root   string
	Folder string
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Folder == "" {
		return fmt.Sprintf("artifact not found in %s: %s", e.Root, e.Reason)
	}
	return fmt.Sprintf("artifact not found in %s: %s", e.Folder, e.Reason)
}

func (e *NotFoundError) Unwrap() error {
	return domain.ErrNotFound
}

// Locator finds the output file of the most recent synthesis run
type Locator struct {
	config LocatorConfig
	logger *slog.Logger
}

// NewLocator creates a new Locator
func NewLocator(config LocatorConfig, logger *slog.Logger) *Locator {
	if config.CanonicalName == "" {
		config.CanonicalName = "audio.wav"
	}
	if len(config.Extensions) == 0 {
		config.Extensions = []string{".wav"}
	}

	return &Locator{config: config, logger: logger}
}

// Candidates lists the immediate subdirectories of root, newest first.
// Folders with the same modification time are ordered by name, descending.
// A missing root yields no candidates.
func (l *Locator) Candidates(root string) ([]Candidate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w: %w", root, domain.ErrLocalIO, err)
	}

	candidates := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}

		candidates = append(candidates, Candidate{
			Name:       entry.Name(),
			Path:       filepath.Join(root, entry.Name()),
			ModifiedAt: info.ModTime(),
			CreatedAt:  changeTime(info),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.ModifiedAt.Equal(b.ModifiedAt) {
			return a.ModifiedAt.After(b.ModifiedAt)
		}
		return a.Name > b.Name
	})

	return candidates, nil
}

// Locate selects the artifact in the newest folder under root: the
// canonical file if present, otherwise the first file with an accepted
// extension.
func (l *Locator) Locate(root string) (*Artifact, error) {
	candidates, err := l.Candidates(root)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return nil, &NotFoundError{Root: root, Reason: ReasonNoFolders}
	}

	folder := candidates[0]
	l.logger.Info("Selected newest output folder",
		slog.String("folder", folder.Name),
		slog.Time("modified_at", folder.ModifiedAt),
		slog.Int("candidates", len(candidates)),
	)

	entries, err := os.ReadDir(folder.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w: %w", folder.Path, domain.ErrLocalIO, err)
	}

	if len(entries) == 0 {
		return nil, &NotFoundError{Root: root, Folder: folder.Path, Reason: ReasonEmptyFolder}
	}

	var fallback fs.DirEntry
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		if entry.Name() == l.config.CanonicalName {
			return l.artifact(folder, entry)
		}

		if fallback == nil && l.accepts(entry.Name()) {
			fallback = entry
		}
	}

	if fallback == nil {
		return nil, &NotFoundError{Root: root, Folder: folder.Path, Reason: ReasonNoMatchingFile}
	}

	l.logger.Info("Canonical artifact missing, using fallback",
		slog.String("expected", l.config.CanonicalName),
		slog.String("file", fallback.Name()),
	)

	return l.artifact(folder, fallback)
}

func (l *Locator) artifact(folder Candidate, entry fs.DirEntry) (*Artifact, error) {
	info, err := entry.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w: %w", entry.Name(), domain.ErrLocalIO, err)
	}

	return &Artifact{
		Path:       filepath.Join(folder.Path, entry.Name()),
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
		Folder:     folder.Name,
	}, nil
}

func (l *Locator) accepts(name string) bool {
	ext := filepath.Ext(name)
	for _, want := range l.config.Extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}
