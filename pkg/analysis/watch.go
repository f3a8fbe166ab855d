package analysis

import (
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mattsolo1/grove-analysis/pkg/resource"
)

// OnWatchEvent feeds one filesystem event into the engine. Events are
// processed one at a time in arrival order; cross-root ordering is whatever
// the provider delivers.
func (m *Manager) OnWatchEvent(event resource.WatchEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.factory.BroadcastWatchEvent(event)
	m.handleWatchEvent(event)
	m.factory.AfterWatchEvent(event)
}

func (m *Manager) handleWatchEvent(event resource.WatchEvent) {
	path := filepath.Clean(event.Path)

	info := m.root.findInnermost(path)
	if info == nil {
		return
	}

	m.log.WithFields(logrus.Fields{
		"type": event.Type.String(),
		"path": path,
	}).Debug("watch event")

	// A dependency change invalidates package resolution no matter what
	// else the event means.
	if info.hasDependency(path) {
		m.recomputeDisposition(info)
	}

	if m.isExcluded(path) {
		return
	}
	if m.inDotFolder(info, path) {
		return
	}
	if m.inDocFolder(info, path) {
		return
	}
	if info.pathFilter.Ignored(path) {
		return
	}

	switch event.Type {
	case resource.Add:
		m.handleAdd(info, path)
	case resource.Remove:
		m.handleRemove(info, path)
	case resource.Modify:
		m.handleModify(info, path)
	}

	// A split or merge may have changed which context owns the path.
	if updated := m.root.findInnermost(path); updated != nil {
		info = updated
	}
	m.analyzeDescriptorFile(info, path)
}

func (m *Manager) handleAdd(info *ContextInfo, path string) {
	base := filepath.Base(path)

	if isDescriptorName(base) {
		m.handleDescriptorAdded(info, path)
		return
	}

	if m.provider.IsDir(path) {
		m.handleFolderAdded(info, path)
		return
	}

	if !m.isAnalyzable(info, path) {
		return
	}
	// A broken symlink (emacs lock files like .#foo) stats as missing and
	// must never reach a driver.
	if !m.provider.Exists(path) {
		return
	}
	if _, known := info.sources[path]; known {
		return
	}
	info.sources[path] = info.driver.AddFile(path)
}

func (m *Manager) handleRemove(info *ContextInfo, path string) {
	base := filepath.Base(path)

	if isDescriptorName(base) {
		m.handleDescriptorRemoved(info, path)
		return
	}

	if _, known := info.sources[path]; known {
		m.factory.ApplyFileRemoved(info.driver, path)
		delete(info.sources, path)
		return
	}

	// A removed folder arrives as one event for the folder itself; every
	// context and source below it is gone too.
	m.handleFolderRemoved(info, path)
}

func (m *Manager) handleModify(info *ContextInfo, path string) {
	if !m.isAnalyzable(info, path) {
		return
	}
	for _, ctx := range m.root.Descendants() {
		ctx.driver.ChangeFile(path)
	}
}

// handleDescriptorAdded either adopts the descriptor into the context rooted
// at its folder, or extracts a new context when the descriptor appeared in a
// deeper folder and no descriptor of the other kind is already there.
func (m *Manager) handleDescriptorAdded(info *ContextInfo, path string) {
	dir := filepath.Dir(path)

	if dir == info.folder {
		// The folder already has a context; the preferred descriptor may
		// have changed (.packages wins over pubspec.yaml).
		if preferred := m.findDescriptor(dir); preferred != info.descriptorPath {
			info.descriptorPath = preferred
			m.recomputeDisposition(info)
		}
		return
	}

	// A folder holding both descriptor kinds stays a single context; the
	// second kind arriving must not extract again.
	if m.otherDescriptorPresent(dir, filepath.Base(path)) {
		return
	}

	m.extractContext(info, dir, path)
}

// extractContext splits a new context rooted at folder out of oldInfo:
// descendant contexts now inside folder are re-parented under the new node,
// and every source of oldInfo lying inside folder moves across, emitted as
// removed on the old driver and added on the new one.
func (m *Manager) extractContext(oldInfo *ContextInfo, folder string, descriptorPath string) *ContextInfo {
	newInfo := m.buildContext(oldInfo, folder, descriptorPath)

	for _, child := range append([]*ContextInfo(nil), oldInfo.children...) {
		if child != newInfo && resource.IsWithin(folder, child.folder) {
			oldInfo.removeChild(child)
			newInfo.addChild(child)
		}
	}

	removed := NewChangeSet()
	added := NewChangeSet()
	for _, path := range oldInfo.SourcePaths() {
		if !resource.Contains(folder, path) {
			continue
		}
		delete(oldInfo.sources, path)
		removed.RemovedSource(path)
		if newInfo.Manages(path) {
			newInfo.sources[path] = newInfo.driver.AddFile(path)
			added.AddedSource(path)
		}
	}

	if !removed.IsEmpty() {
		m.factory.ApplyChangesToContext(oldInfo.folder, removed)
	}
	if !added.IsEmpty() {
		m.factory.ApplyChangesToContext(newInfo.folder, added)
	}

	m.log.WithFields(logrus.Fields{
		"folder": folder,
		"from":   oldInfo.folder,
		"moved":  len(added.Added),
	}).Info("context extracted")
	return newInfo
}

// handleDescriptorRemoved merges a context into its parent when its last
// descriptor disappears. Top-level contexts survive descriptorless.
func (m *Manager) handleDescriptorRemoved(info *ContextInfo, path string) {
	dir := filepath.Dir(path)
	if dir != info.folder {
		return
	}

	if remaining := m.findDescriptor(dir); remaining != "" {
		if remaining != info.descriptorPath {
			info.descriptorPath = remaining
			m.recomputeDisposition(info)
		}
		return
	}

	if info.isTopLevel() {
		info.descriptorPath = ""
		info.disposition = &NoPackageDisposition{}
		info.setDependencies(nil)
		return
	}

	m.mergeContext(info)
}

// mergeContext destroys info and transfers its sources to the parent,
// emitting added on the parent driver. The files transfer rather than
// orphan, so nothing is flushed.
func (m *Manager) mergeContext(info *ContextInfo) {
	parent := info.parent

	for _, child := range append([]*ContextInfo(nil), info.children...) {
		info.removeChild(child)
		parent.addChild(child)
	}

	sources := info.SourcePaths()
	m.factory.RemoveContext(info.folder, nil)
	parent.removeChild(info)

	added := NewChangeSet()
	for _, path := range sources {
		if !parent.Manages(path) {
			continue
		}
		parent.sources[path] = parent.driver.AddFile(path)
		added.AddedSource(path)
	}
	if !added.IsEmpty() {
		m.factory.ApplyChangesToContext(parent.folder, added)
	}

	m.log.WithFields(logrus.Fields{
		"folder": info.folder,
		"into":   parent.folder,
		"moved":  len(added.Added),
	}).Info("context merged into parent")
}

// handleFolderAdded deals with a directory appearing wholesale (mkdir or a
// tree moved into place): new descriptors become contexts and new files are
// attributed by a rescan.
func (m *Manager) handleFolderAdded(info *ContextInfo, dir string) {
	if m.skipDirectory(info, dir) {
		return
	}

	owner := info
	if descriptorPath := m.findDescriptor(dir); descriptorPath != "" && dir != info.folder {
		owner = m.extractContext(info, dir, descriptorPath)
	}
	m.discoverChildren(owner, dir)
	m.rescanAllSources()
}

// handleFolderRemoved destroys contexts rooted under the removed path and
// drops sources the removal orphaned.
func (m *Manager) handleFolderRemoved(info *ContextInfo, dir string) {
	for _, child := range append([]*ContextInfo(nil), info.children...) {
		if resource.Contains(dir, child.folder) {
			m.destroyContext(child)
		}
	}

	changes := NewChangeSet()
	for _, path := range info.SourcePaths() {
		if resource.IsWithin(dir, path) {
			m.factory.ApplyFileRemoved(info.driver, path)
			delete(info.sources, path)
			changes.RemovedSource(path)
		}
	}
	if !changes.IsEmpty() {
		m.factory.ApplyChangesToContext(info.folder, changes)
	}
}

// onWatcherError is the coarse-grained recovery path: log, drop the stream,
// rebuild from scratch.
func (m *Manager) onWatcherError(folder string, err error) {
	m.log.WithError(err).WithField("folder", folder).Error("watcher failed, refreshing all roots")
	if refreshErr := m.Refresh(nil); refreshErr != nil {
		m.log.WithError(refreshErr).Error("refresh after watcher failure failed")
	}
}

// --- descriptor re-analysis ----------------------------------------------

func isDescriptorName(base string) bool {
	return base == PubspecName || base == PackagesName
}

// otherDescriptorPresent reports whether dir holds a descriptor of the kind
// other than base.
func (m *Manager) otherDescriptorPresent(dir string, base string) bool {
	other := PubspecName
	if base == PubspecName {
		other = PackagesName
	}
	return m.provider.Exists(filepath.Join(dir, other))
}

// analyzeDescriptorFile re-runs the per-descriptor analyzers after the
// primary transition. Each run produces a fresh diagnostics list that
// replaces the prior list for the path.
func (m *Manager) analyzeDescriptorFile(info *ContextInfo, path string) {
	base := filepath.Base(path)

	switch {
	case base == PubspecName:
		m.reanalyze(path, validatePubspec)
		m.updateAnalysisOptions(info)
	case base == PackagesName:
		m.reanalyze(path, validatePackagesFile)
		m.updateAnalysisOptions(info)
	case m.cfg.IsOptionsFileName(base):
		if !m.provider.Exists(path) {
			m.recordErrors(path, []AnalysisError{})
		}
		m.updateAnalysisOptions(info)
	case base == FixDataName && filepath.Dir(path) == filepath.Join(info.folder, "lib"):
		m.reanalyze(path, validateFixData)
	case base == ManifestName:
		m.reanalyze(path, validateManifest)
	}
}

// reanalyze runs one validator over the file and publishes the result. A
// validator failure of any kind, panics included, resets the diagnostics for
// the file; one bad validator never takes the event loop down.
func (m *Manager) reanalyze(path string, validator func(string, []byte) []AnalysisError) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("path", path).Errorf("validator panicked: %v", r)
			m.recordErrors(path, []AnalysisError{})
		}
	}()

	if !m.provider.Exists(path) {
		m.recordErrors(path, []AnalysisError{})
		return
	}
	content, err := m.provider.ReadFile(path)
	if err != nil {
		m.recordErrors(path, []AnalysisError{})
		return
	}
	m.recordErrors(path, validator(path, content))
}

func (m *Manager) recordErrors(path string, errors []AnalysisError) {
	if m.notifications != nil {
		m.notifications.RecordAnalysisErrors(path, errors)
	}
}

// inDotFolder reports whether path sits inside a dot-prefixed folder below
// the context root. A dot-prefixed basename (like .packages itself) does not
// count.
func (m *Manager) inDotFolder(info *ContextInfo, path string) bool {
	rel, err := filepath.Rel(info.folder, filepath.Dir(path))
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(filepath.ToSlash(rel), "/") {
		if segment != "." && segment != ".." && strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}

// inDocFolder reports whether path sits inside the top-level doc directory
// of the context.
func (m *Manager) inDocFolder(info *ContextInfo, path string) bool {
	return resource.IsWithin(filepath.Join(info.folder, "doc"), path)
}
