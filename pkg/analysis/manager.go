// Package analysis maintains a live, tree-structured partition of a
// workspace into analysis contexts. Discovery finds package descriptors
// under the included roots, one context is created per project root, every
// source file is attributed to its innermost enclosing context, and watch
// events reshape the tree incrementally.
package analysis

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/moby/patternmatcher"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/mattsolo1/grove-analysis/pkg/config"
	"github.com/mattsolo1/grove-analysis/pkg/resource"
)

// ErrBadRoot is returned from SetRoots when an included path exists but is
// not a directory.
var ErrBadRoot = errors.New("included analysis root is not a directory")

// Manager is the context-manager engine. All public operations and all
// watch-event deliveries serialize on one mutex; only one mutation of the
// tree is in flight at a time.
type Manager struct {
	provider      resource.Provider
	factory       DriverFactory
	notifications NotificationManager
	cfg           *config.Config
	log           *logrus.Entry

	matcher       *patternmatcher.PatternMatcher
	caseSensitive bool

	mu            sync.Mutex
	root          *ContextInfo
	includedPaths []string
	excludedPaths []string
}

// NewManager creates a manager over the given provider and driver factory.
func NewManager(provider resource.Provider, factory DriverFactory, notifications NotificationManager, cfg *config.Config, log *logrus.Entry) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		discard := logrus.New()
		discard.Out = io.Discard
		log = logrus.NewEntry(discard)
	}
	matcher, err := patternmatcher.New(cfg.AnalyzedFileGlobs)
	if err != nil {
		return nil, fmt.Errorf("compiling analyzed-file globs: %w", err)
	}
	return &Manager{
		provider:      provider,
		factory:       factory,
		notifications: notifications,
		cfg:           cfg,
		log:           log,
		matcher:       matcher,
		caseSensitive: provider.CaseSensitive(),
		root:          newRootInfo(),
	}, nil
}

// SetRoots replaces the configured roots. Included paths that do not exist
// are dropped; included paths that are not directories make the call fail
// with ErrBadRoot (wrapped, one per offending path). On return the tree
// reflects the inputs and every surviving context has received the net
// source delta caused by changed exclusions.
func (m *Manager) SetRoots(includedPaths, excludedPaths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setRoots(includedPaths, excludedPaths)
}

func (m *Manager) setRoots(includedPaths, excludedPaths []string) error {
	var badRoots *multierror.Error

	var included []string
	for _, path := range includedPaths {
		folder := filepath.Clean(path)
		if !m.provider.Exists(folder) {
			// TODO(watch-for-appearance): a root that appears later is
			// never picked up until the next SetRoots.
			m.log.WithField("path", folder).Warn("included root does not exist, dropping")
			continue
		}
		if !m.provider.IsDir(folder) {
			badRoots = multierror.Append(badRoots, fmt.Errorf("%w: %s", ErrBadRoot, folder))
			continue
		}
		included = append(included, folder)
	}

	// Outer roots are processed first so nested roots attach below them.
	sort.Slice(included, func(i, j int) bool {
		return len(included[i]) < len(included[j])
	})

	excluded := make([]string, 0, len(excludedPaths))
	for _, path := range excludedPaths {
		excluded = append(excluded, filepath.Clean(path))
	}

	m.includedPaths = included
	m.excludedPaths = excluded

	// Destroy contexts whose included folder is gone.
	for _, info := range m.subscribedContexts() {
		if !lo.Contains(included, info.folder) {
			m.destroyContext(info)
		}
	}

	// Discover newly included folders.
	var created []*ContextInfo
	for _, folder := range included {
		if m.findContextAt(folder) != nil {
			continue
		}
		created = append(created, m.createRootContext(folder))
	}

	// Net delta of sources for every context: exclusion transitions on the
	// survivors, the initial scan for the new trees. Removals are computed
	// before additions, so a path is never double-counted.
	m.rescanAllSources()

	for _, info := range created {
		m.log.WithFields(logrus.Fields{
			"folder":   info.folder,
			"contexts": 1 + len(info.Descendants()),
		}).Info("analysis root discovered")
	}

	return badRoots.ErrorOrNil()
}

// Refresh destroys every context intersecting the given roots (all contexts
// when roots is nil), then re-runs SetRoots with the last inputs. Used to
// recover from watcher overflow.
func (m *Manager) Refresh(roots []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, info := range m.subscribedContexts() {
		if roots == nil || intersectsAny(info.folder, roots) {
			m.destroyContext(info)
		}
	}
	return m.setRoots(m.includedPaths, m.excludedPaths)
}

func intersectsAny(folder string, roots []string) bool {
	for _, root := range roots {
		if resource.Contains(root, folder) || resource.Contains(folder, root) {
			return true
		}
	}
	return false
}

// DriverFor returns the driver of the innermost context containing path, or
// nil.
func (m *Manager) DriverFor(path string) Driver {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.root.findInnermost(filepath.Clean(path))
	if info == nil {
		return nil
	}
	return info.driver
}

// DriversInRoot returns the drivers of every context whose folder equals or
// is contained in folder.
func (m *Manager) DriversInRoot(folder string) []Driver {
	m.mu.Lock()
	defer m.mu.Unlock()

	folder = filepath.Clean(folder)
	contexts := lo.Filter(m.root.Descendants(), func(info *ContextInfo, _ int) bool {
		return resource.Contains(folder, info.folder)
	})
	return lo.Map(contexts, func(info *ContextInfo, _ int) Driver {
		return info.driver
	})
}

// IsInAnalysisRoot reports whether path is inside some included folder and
// not excluded.
func (m *Manager) IsInAnalysisRoot(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	for _, folder := range m.includedPaths {
		if resource.Contains(folder, path) {
			return !m.isExcluded(path)
		}
	}
	return false
}

// IsIgnored walks the tree from the virtual root to the innermost node
// containing path and reports whether any node on that path ignores it.
func (m *Manager) IsIgnored(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	node := m.root
	for {
		child := node.FindChildContaining(path)
		if child == nil {
			return false
		}
		if child.pathFilter.Ignored(path) {
			return true
		}
		node = child
	}
}

// Contexts returns every context in the tree, pre-order. Callers must treat
// the nodes as read-only.
func (m *Manager) Contexts() []*ContextInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root.Descendants()
}

// RootContexts returns the top-level contexts, one per included folder.
func (m *Manager) RootContexts() []*ContextInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ContextInfo(nil), m.root.children...)
}

// --- discovery -----------------------------------------------------------

// createRootContext creates the context for an included folder, attaches it
// at the innermost existing containing node, subscribes a watcher, and
// recursively creates contexts for every descriptor found below it.
func (m *Manager) createRootContext(folder string) *ContextInfo {
	parent := m.root
	if attach := m.root.findInnermost(folder); attach != nil {
		parent = attach
	}

	// An included folder gets a context whether or not it has a descriptor.
	descriptorPath := m.findDescriptor(folder)
	info := m.buildContext(parent, folder, descriptorPath)

	sub, err := m.provider.Watch(folder,
		func(event resource.WatchEvent) { m.OnWatchEvent(event) },
		func(err error) { m.onWatcherError(folder, err) },
	)
	if err != nil {
		m.log.WithError(err).WithField("folder", folder).Warn("could not subscribe watcher")
	} else {
		info.subscription = sub
	}

	m.discoverChildren(info, folder)
	return info
}

// discoverChildren recurses into folder creating a context at every
// directory holding a descriptor file.
func (m *Manager) discoverChildren(parent *ContextInfo, folder string) {
	entries, err := m.provider.ListDir(folder)
	if err != nil {
		// The folder disappeared between enumeration and read; treat as
		// empty and move on.
		return
	}

	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		dir := filepath.Join(folder, entry.Name)
		if m.skipDirectory(parent, dir) {
			continue
		}

		if descriptorPath := m.findDescriptor(dir); descriptorPath != "" {
			child := m.findContextAt(dir)
			if child == nil {
				child = m.buildContext(parent, dir, descriptorPath)
			}
			m.discoverChildren(child, dir)
		} else {
			m.discoverChildren(parent, dir)
		}
	}
}

// skipDirectory applies the walk skip rules: dot folders, user-excluded
// paths, and the doc folder at the top level of a context.
func (m *Manager) skipDirectory(owner *ContextInfo, dir string) bool {
	base := filepath.Base(dir)
	if len(base) > 0 && base[0] == '.' {
		return true
	}
	if m.isExcluded(dir) {
		return true
	}
	if base == "doc" && !owner.isRoot() && filepath.Dir(dir) == owner.folder {
		return true
	}
	return false
}

// findDescriptor returns the descriptor file to root a context at folder:
// .packages is preferred over pubspec.yaml.
func (m *Manager) findDescriptor(folder string) string {
	packagesPath := filepath.Join(folder, PackagesName)
	if m.provider.Exists(packagesPath) {
		return packagesPath
	}
	pubspecPath := filepath.Join(folder, PubspecName)
	if m.provider.Exists(pubspecPath) {
		return pubspecPath
	}
	return ""
}

// buildContext creates a single ContextInfo with its disposition, options,
// path filter, and driver.
func (m *Manager) buildContext(parent *ContextInfo, folder string, descriptorPath string) *ContextInfo {
	disposition := m.computeDisposition(folder, descriptorPath)
	options := m.loadAnalysisOptions(folder)

	info := newContextInfo(parent, folder, descriptorPath, disposition, m.caseSensitive)
	info.options = options
	info.pathFilter.SetPatterns(options.Exclude)
	info.setDependencies(disposition.Dependencies())
	info.driver = m.factory.AddAnalysisDriver(folder, descriptorPath, disposition, options)

	m.log.WithFields(logrus.Fields{
		"folder":     folder,
		"descriptor": filepath.Base(descriptorPath),
	}).Debug("context created")
	return info
}

// computeDisposition parses the descriptor into a disposition. A read or
// parse failure clears diagnostics for the descriptor and falls back to
// NoPackage; one bad file never invalidates the tree.
func (m *Manager) computeDisposition(folder string, descriptorPath string) FolderDisposition {
	if descriptorPath == "" || filepath.Base(descriptorPath) != PackagesName {
		return &NoPackageDisposition{}
	}

	content, err := m.provider.ReadFile(descriptorPath)
	if err != nil {
		m.log.WithError(err).WithField("path", descriptorPath).Warn("could not read package descriptor")
		if m.notifications != nil {
			m.notifications.RecordAnalysisErrors(descriptorPath, []AnalysisError{})
		}
		return &NoPackageDisposition{}
	}

	return &PackagesFileDisposition{
		Path:     descriptorPath,
		Packages: parsePackagesFile(content),
	}
}

// loadAnalysisOptions looks for an analysis-options file in folder and
// parses it, recording its diagnostics. A missing or broken file yields
// default options.
func (m *Manager) loadAnalysisOptions(folder string) *AnalysisOptions {
	for _, name := range m.cfg.OptionsFileNames {
		path := filepath.Join(folder, name)
		if !m.provider.Exists(path) {
			continue
		}
		content, err := m.provider.ReadFile(path)
		if err != nil {
			m.log.WithError(err).WithField("path", path).Warn("could not read analysis options")
			return &AnalysisOptions{}
		}
		options, diagnostics := parseAnalysisOptions(path, content)
		if m.notifications != nil {
			m.notifications.RecordAnalysisErrors(path, diagnostics)
		}
		return options
	}
	return &AnalysisOptions{}
}

// --- source scanning -----------------------------------------------------

// rescanAllSources recomputes the desired source partition under every
// top-level context and applies the delta per context: removals first, then
// additions, in a single ChangeSet each.
func (m *Manager) rescanAllSources() {
	desired := make(map[*ContextInfo]map[string]bool)
	for _, info := range m.root.Descendants() {
		desired[info] = make(map[string]bool)
	}
	for _, top := range m.root.children {
		m.collectSources(top.folder, desired)
	}

	for _, info := range m.root.Descendants() {
		changes := NewChangeSet()

		for _, path := range info.SourcePaths() {
			if !desired[info][path] {
				changes.RemovedSource(path)
				delete(info.sources, path)
			}
		}
		for path := range desired[info] {
			if _, known := info.sources[path]; !known {
				changes.AddedSource(path)
				info.sources[path] = info.driver.AddFile(path)
			}
		}

		if !changes.IsEmpty() {
			m.factory.ApplyChangesToContext(info.folder, changes)
		}
	}
}

// collectSources walks dir attributing every analyzable file to its
// innermost owning context.
func (m *Manager) collectSources(dir string, desired map[*ContextInfo]map[string]bool) {
	entries, err := m.provider.ListDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name)
		if entry.IsDir {
			if m.skipDirectory(m.owningContextForDir(path), path) {
				continue
			}
			m.collectSources(path, desired)
			continue
		}

		owner := m.root.findInnermost(path)
		if owner == nil {
			continue
		}
		if !m.isAnalyzable(owner, path) {
			continue
		}
		if m.isExcluded(path) || owner.pathFilter.Ignored(path) {
			continue
		}
		// Broken symlinks (emacs lock files like .#foo) stat as missing.
		if !m.provider.Exists(path) {
			continue
		}
		if bucket, tracked := desired[owner]; tracked {
			bucket[path] = true
		}
	}
}

// owningContextForDir returns the context whose folder encloses dir, for the
// purposes of the doc-folder rule.
func (m *Manager) owningContextForDir(dir string) *ContextInfo {
	owner := m.root.findInnermost(dir)
	if owner == nil {
		return m.root
	}
	return owner
}

// isAnalyzable reports whether path matches the configured analyzed-file
// globs, relative to the owning context's folder.
func (m *Manager) isAnalyzable(owner *ContextInfo, path string) bool {
	rel, err := filepath.Rel(owner.folder, path)
	if err != nil {
		return false
	}
	matched, err := m.matcher.MatchesOrParentMatches(filepath.ToSlash(rel))
	return err == nil && matched
}

// isExcluded reports whether path equals or lies within a user-excluded
// path.
func (m *Manager) isExcluded(path string) bool {
	for _, excluded := range m.excludedPaths {
		if resource.Contains(excluded, path) {
			return true
		}
	}
	return false
}

// --- destruction ---------------------------------------------------------

// subscribedContexts returns the contexts owning a watcher subscription,
// i.e. those created for included folders, outermost first.
func (m *Manager) subscribedContexts() []*ContextInfo {
	return lo.Filter(m.root.Descendants(), func(info *ContextInfo, _ int) bool {
		return info.subscription != nil
	})
}

// findContextAt returns the context rooted exactly at folder, or nil.
func (m *Manager) findContextAt(folder string) *ContextInfo {
	for _, info := range m.root.Descendants() {
		if info.folder == folder {
			return info
		}
	}
	return nil
}

// destroyContext destroys info and its whole subtree, children first. Each
// driver is told which of its files are orphaned by the removal, and the
// watcher subscription, if any, is released.
func (m *Manager) destroyContext(info *ContextInfo) {
	// Destroying an enclosing context already detached this one.
	if info.parent == nil {
		return
	}

	for _, child := range append([]*ContextInfo(nil), info.children...) {
		m.destroyContext(child)
	}

	flushed := info.SourcePaths()
	info.sources = make(map[string]Source)
	m.factory.RemoveContext(info.folder, flushed)

	if info.subscription != nil {
		if err := info.subscription.Close(); err != nil {
			m.log.WithError(err).WithField("folder", info.folder).Warn("could not release watcher")
		}
		info.subscription = nil
	}

	info.parent.removeChild(info)
	m.log.WithField("folder", info.folder).Debug("context destroyed")
}

// --- options and disposition updates -------------------------------------

// updateAnalysisOptions reloads options for the context, asks the builder
// for fresh options and a fresh source factory, reconfigures the driver and
// the path filter, and notifies the factory.
func (m *Manager) updateAnalysisOptions(info *ContextInfo) {
	options := m.loadAnalysisOptions(info.folder)

	builder := m.factory.CreateContextBuilder(info.folder, options)
	if builder != nil {
		if fresh, err := builder.GetAnalysisOptions(info.folder); err == nil && fresh != nil {
			options = fresh
		}
		info.driver.Configure(options, builder.CreateSourceFactory(info.folder, info.disposition))
	}

	info.options = options
	info.pathFilter.SetPatterns(options.Exclude)
	m.factory.AnalysisOptionsUpdated(info.driver)
}

// recomputeDisposition re-parses the descriptor, rebuilds the source factory
// and replaces the dependency set. Sources are not rescanned; only
// resolution is affected.
func (m *Manager) recomputeDisposition(info *ContextInfo) {
	disposition := m.computeDisposition(info.folder, info.descriptorPath)
	info.disposition = disposition
	info.setDependencies(disposition.Dependencies())

	builder := m.factory.CreateContextBuilder(info.folder, info.options)
	if builder != nil {
		info.driver.Configure(info.options, builder.CreateSourceFactory(info.folder, disposition))
	}
}
