package analysis

import (
	"io"
	"sort"

	"github.com/mattsolo1/grove-analysis/pkg/resource"
)

// ContextInfo is a node of the context tree. The folder of a non-root node
// is strictly contained in its parent's folder; sibling folders are pairwise
// disjoint. The virtual root is the only node with an empty folder and is
// never exposed through the public API.
type ContextInfo struct {
	folder         string
	parent         *ContextInfo
	children       []*ContextInfo
	descriptorPath string
	disposition    FolderDisposition
	options        *AnalysisOptions
	pathFilter     *PathFilter
	dependencies   map[string]bool
	sources        map[string]Source
	driver         Driver

	// subscription is the watcher handle; set only on top-level contexts.
	subscription io.Closer
}

func newRootInfo() *ContextInfo {
	return &ContextInfo{
		dependencies: make(map[string]bool),
		sources:      make(map[string]Source),
	}
}

func newContextInfo(parent *ContextInfo, folder string, descriptorPath string, disposition FolderDisposition, caseSensitive bool) *ContextInfo {
	info := &ContextInfo{
		folder:         folder,
		parent:         parent,
		descriptorPath: descriptorPath,
		disposition:    disposition,
		pathFilter:     NewPathFilter(folder, caseSensitive),
		dependencies:   make(map[string]bool),
		sources:        make(map[string]Source),
	}
	parent.addChild(info)
	return info
}

// Folder returns the absolute folder the context is rooted at.
func (info *ContextInfo) Folder() string {
	return info.folder
}

// Parent returns the enclosing context, or nil for a top-level context
// (whose parent is the hidden virtual root).
func (info *ContextInfo) Parent() *ContextInfo {
	if info.parent != nil && info.parent.isRoot() {
		return nil
	}
	return info.parent
}

// DescriptorPath returns the package-descriptor file the context exists for,
// or "" for a descriptorless top-level context.
func (info *ContextInfo) DescriptorPath() string {
	return info.descriptorPath
}

// Disposition returns the context's package-resolution strategy.
func (info *ContextInfo) Disposition() FolderDisposition {
	return info.disposition
}

// Driver returns the analysis driver bound to the context.
func (info *ContextInfo) Driver() Driver {
	return info.driver
}

// Children returns the direct child contexts, ordered by folder.
func (info *ContextInfo) Children() []*ContextInfo {
	return info.children
}

// SourcePaths returns the sorted paths currently owned by the context.
func (info *ContextInfo) SourcePaths() []string {
	paths := make([]string, 0, len(info.sources))
	for path := range info.sources {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (info *ContextInfo) isRoot() bool {
	return info.parent == nil && info.folder == ""
}

// isTopLevel reports whether the context hangs directly off the virtual
// root, i.e. it corresponds to an included folder.
func (info *ContextInfo) isTopLevel() bool {
	return info.parent != nil && info.parent.isRoot()
}

func (info *ContextInfo) addChild(child *ContextInfo) {
	child.parent = info
	info.children = append(info.children, child)
	sort.Slice(info.children, func(i, j int) bool {
		return info.children[i].folder < info.children[j].folder
	})
}

func (info *ContextInfo) removeChild(child *ContextInfo) {
	for i, c := range info.children {
		if c == child {
			info.children = append(info.children[:i], info.children[i+1:]...)
			child.parent = nil
			return
		}
	}
}

// Descendants returns all transitive children in pre-order, not including
// the receiver.
func (info *ContextInfo) Descendants() []*ContextInfo {
	var result []*ContextInfo
	for _, child := range info.children {
		result = append(result, child)
		result = append(result, child.Descendants()...)
	}
	return result
}

// contains reports whether the node's folder equals or contains path. The
// virtual root contains everything.
func (info *ContextInfo) contains(path string) bool {
	if info.isRoot() {
		return true
	}
	return resource.Contains(info.folder, path)
}

// FindChildContaining returns the unique child whose folder equals or
// contains path, or nil. Sibling folders are disjoint, so at most one child
// matches.
func (info *ContextInfo) FindChildContaining(path string) *ContextInfo {
	for _, child := range info.children {
		if child.contains(path) {
			return child
		}
	}
	return nil
}

// Excludes reports whether a deeper context owns path.
func (info *ContextInfo) Excludes(path string) bool {
	return info.FindChildContaining(path) != nil
}

// Manages reports whether the context itself owns path: the folder contains
// it, no child claims it, and the path filter does not ignore it.
func (info *ContextInfo) Manages(path string) bool {
	if !info.contains(path) {
		return false
	}
	if info.Excludes(path) {
		return false
	}
	return !info.pathFilter.Ignored(path)
}

// hasDependency reports whether path is one of the disposition's
// dependencies.
func (info *ContextInfo) hasDependency(path string) bool {
	return info.dependencies[path]
}

func (info *ContextInfo) setDependencies(paths []string) {
	info.dependencies = make(map[string]bool, len(paths))
	for _, path := range paths {
		info.dependencies[path] = true
	}
}

// findInnermost returns the deepest node under info whose folder contains
// path, or nil if no context contains it.
func (info *ContextInfo) findInnermost(path string) *ContextInfo {
	if !info.contains(path) {
		return nil
	}
	node := info
	for {
		child := node.FindChildContaining(path)
		if child == nil {
			break
		}
		node = child
	}
	if node.isRoot() {
		return nil
	}
	return node
}
