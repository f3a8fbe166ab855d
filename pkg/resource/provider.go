// Package resource abstracts the filesystem and the watcher so the analysis
// engine can be driven by a real OS tree or by tests delivering synthetic
// events.
package resource

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// WatchEventType classifies a filesystem change.
type WatchEventType int

const (
	// Add means the path appeared.
	Add WatchEventType = iota
	// Modify means the path's content changed.
	Modify
	// Remove means the path disappeared.
	Remove
)

func (t WatchEventType) String() string {
	switch t {
	case Add:
		return "ADD"
	case Modify:
		return "MODIFY"
	case Remove:
		return "REMOVE"
	}
	return "UNKNOWN"
}

// WatchEvent is a single filesystem change delivered to a subscriber.
type WatchEvent struct {
	Type WatchEventType
	Path string
}

// Entry is one child of a listed directory.
type Entry struct {
	Name  string
	IsDir bool
}

// Provider is the filesystem surface the engine consumes. Paths are always
// absolute and slash-normalized with filepath.Clean.
type Provider interface {
	// Exists reports whether the path refers to an existing file or folder.
	Exists(path string) bool

	// IsDir reports whether the path refers to an existing directory.
	IsDir(path string) bool

	// ReadFile returns the content of the file at path.
	ReadFile(path string) ([]byte, error)

	// ListDir returns the direct children of the folder at path.
	ListDir(path string) ([]Entry, error)

	// Watch subscribes to changes under folder, recursively. Events for a
	// single subscription are delivered in order from a single goroutine.
	// Closing the returned Closer releases the subscription.
	Watch(folder string, onEvent func(WatchEvent), onError func(error)) (io.Closer, error)

	// CaseSensitive reports whether path comparison should respect case.
	CaseSensitive() bool
}

// IsWithin reports whether path is strictly inside folder.
func IsWithin(folder, path string) bool {
	if folder == path {
		return false
	}
	return strings.HasPrefix(path, folder+string(filepath.Separator))
}

// Contains reports whether folder equals path or strictly contains it.
func Contains(folder, path string) bool {
	return folder == path || IsWithin(folder, path)
}

// DefaultCaseSensitivity matches the conventions of the host filesystem:
// case-insensitive on macOS and Windows, case-sensitive elsewhere.
func DefaultCaseSensitivity() bool {
	return runtime.GOOS != "darwin" && runtime.GOOS != "windows"
}

// osProvider is the Provider backed by the real filesystem.
type osProvider struct {
	caseSensitive bool
}

// NewOSProvider returns a Provider backed by the os package and fsnotify.
func NewOSProvider(caseSensitive bool) Provider {
	return &osProvider{caseSensitive: caseSensitive}
}

// Exists follows symlinks: a dangling link (emacs lock files like .#foo)
// counts as missing.
func (p *osProvider) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (p *osProvider) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (p *osProvider) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (p *osProvider) ListDir(path string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, e := range dirEntries {
		entries = append(entries, Entry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return entries, nil
}

func (p *osProvider) CaseSensitive() bool {
	return p.caseSensitive
}
